package apperr

import "fmt"

// Validation messages produced by the pipeline pre-flight checks.
const (
	MsgNoImage         = "no image"
	MsgInvalidType     = "invalid type"
	MsgTooLarge        = "too large"
	MsgInvalidLanguage = "invalid language"
)

// UserMessage renders err as a plain-language status line for the UI.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return "Something went wrong while processing your image."
	}

	switch appErr.Type {
	case ErrValidation:
		switch appErr.Message {
		case MsgNoImage:
			return "Please select an image first."
		case MsgInvalidType:
			return "Please select a valid image file."
		case MsgTooLarge:
			return "Image file is too large. Please select an image smaller than 5MB."
		case MsgInvalidLanguage:
			return "Please choose a supported language."
		default:
			return fmt.Sprintf("Invalid input: %s.", appErr.Message)
		}
	case ErrConnectivity:
		return "Connection error: Unable to reach the server. Please check if the backend is running."
	case ErrServer:
		if appErr.Step == StepCaption {
			return "The captioning service could not process your image. Please try again."
		}
		return "The server returned an error. Please try again."
	case ErrStorage:
		return "Your result could not be saved to history."
	default:
		return "Something went wrong while processing your image."
	}
}

// Announcement is the text for the accessible live region: the status line prefixed with "Error: ".
func Announcement(err error) string {
	if err == nil {
		return ""
	}
	return "Error: " + UserMessage(err)
}
