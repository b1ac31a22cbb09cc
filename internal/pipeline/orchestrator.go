package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/vision2voice/internal/apperr"
	"github.com/MimeLyc/vision2voice/internal/history"
	"github.com/MimeLyc/vision2voice/internal/visionapi"
	"github.com/MimeLyc/vision2voice/pkg/log"
	"github.com/abadojack/whatlanggo"
)

const (
	announceProcessing    = "Processing image. Please wait..."
	announceTranslating   = "Translating caption..."
	announceAudioReady    = "Audio generated successfully. You can now play or download the audio."
	announceAudioFailed   = "Caption generated but audio creation failed."
	announceCaptionPrefix = "Caption generated: "
)

// Orchestrator runs validate, caption, translate, synthesize and persist for one image.
type Orchestrator struct {
	remote RemoteService
	store  history.Store
	now    func() time.Time
}

func NewOrchestrator(remote RemoteService, store history.Store) *Orchestrator {
	return &Orchestrator{
		remote: remote,
		store:  store,
		now:    time.Now,
	}
}

// Run processes req. Validation and caption failures return an error and
// write nothing; any later failure only degrades the returned Outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request, opts ...RunOption) (*Outcome, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	progress := func(p int) {
		if ro.progress != nil {
			ro.progress(p)
		}
	}
	announce := func(msg string) {
		if ro.announce != nil {
			ro.announce(msg)
		}
	}

	mediaType, lang, err := Validate(req)
	if err != nil {
		log.Warn("Rejected image %q: %v", req.Filename, err)
		return nil, err
	}

	progress(ProgressStart)
	progress(ProgressSubmitted)
	announce(announceProcessing)

	caption, err := o.caption(ctx, req, mediaType)
	if err != nil {
		log.Error("Caption failed for %q: %v", req.Filename, err)
		return nil, err
	}
	progress(ProgressCaptioned)

	outcome := &Outcome{
		Caption:         caption,
		OriginalCaption: caption,
		Language:        lang,
		ImageType:       mediaType,
		Translation:     StepResult{Status: StepSkipped},
	}

	if lang != DefaultLanguage {
		progress(ProgressTranslated)
		announce(announceTranslating)
		outcome.Caption, outcome.Translation = o.translate(ctx, caption, lang)
	}
	outcome.DetectedLanguage = detectLanguage(outcome.Caption)

	progress(ProgressCaptionSet)
	announce(announceCaptionPrefix + outcome.Caption)

	audio, synthesis := o.synthesize(ctx, outcome.Caption, lang)
	outcome.Synthesis = synthesis
	if audio != nil {
		outcome.Audio = audio.Data
		outcome.AudioType = audio.ContentType
		announce(announceAudioReady)
	} else {
		announce(announceAudioFailed)
	}
	progress(ProgressSpoken)

	outcome.Timestamp = o.now()
	outcome.RecordID, outcome.Persistence = o.persist(ctx, req, outcome)
	progress(ProgressDone)

	if outcome.Degraded() {
		log.Info("Run for %q finished degraded (translation=%s synthesis=%s persistence=%s): %s",
			req.Filename, outcome.Translation.Status, outcome.Synthesis.Status, outcome.Persistence.Status, outcome.Summary())
	} else {
		log.Info("Run for %q finished: %s", req.Filename, outcome.Summary())
	}
	return outcome, nil
}

func (o *Orchestrator) caption(ctx context.Context, req Request, mediaType string) (string, error) {
	resp, err := o.remote.Caption(ctx, visionapi.Image{
		Data:        req.Image,
		Filename:    req.Filename,
		ContentType: mediaType,
	})
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			return "", appErr.WithStep(apperr.StepCaption)
		}
		return "", apperr.NewConnectivity("caption request failed", err).WithStep(apperr.StepCaption)
	}
	caption := strings.TrimSpace(resp.Caption)
	if caption == "" {
		return PlaceholderCaption, nil
	}
	return caption, nil
}

func (o *Orchestrator) translate(ctx context.Context, caption, lang string) (string, StepResult) {
	resp, err := o.remote.Translate(ctx, caption, lang)
	if err != nil {
		err = withStep(err, apperr.StepTranslate)
		log.Warn("Translation to %s failed, keeping original caption: %v", lang, err)
		return caption, StepResult{Status: StepDegraded, Reason: err.Error()}
	}
	translated := strings.TrimSpace(resp.TranslatedText)
	if translated == "" {
		log.Warn("Translation to %s returned no text, keeping original caption", lang)
		return caption, StepResult{Status: StepDegraded, Reason: "empty translation"}
	}
	return translated, StepResult{Status: StepOK}
}

func (o *Orchestrator) synthesize(ctx context.Context, text, lang string) (*visionapi.Audio, StepResult) {
	audio, err := o.remote.Synthesize(ctx, text, lang)
	if err != nil {
		err = withStep(err, apperr.StepSynthesize)
		log.Warn("Speech synthesis failed: %v", err)
		return nil, StepResult{Status: StepDegraded, Reason: err.Error()}
	}
	if audio == nil || len(audio.Data) == 0 {
		log.Warn("Speech synthesis returned no audio")
		return nil, StepResult{Status: StepDegraded, Reason: "empty audio"}
	}
	return audio, StepResult{Status: StepOK}
}

func (o *Orchestrator) persist(ctx context.Context, req Request, outcome *Outcome) (int64, StepResult) {
	if o.store == nil {
		return 0, StepResult{Status: StepSkipped}
	}
	id, err := o.store.Insert(ctx, history.Record{
		Caption:   outcome.Caption,
		Image:     req.Image,
		ImageType: outcome.ImageType,
		Audio:     outcome.Audio,
		AudioType: outcome.AudioType,
		Language:  outcome.Language,
		Timestamp: outcome.Timestamp,
	})
	if err != nil {
		err = withStep(err, apperr.StepPersist)
		log.Error("Failed to save history record: %v", err)
		return 0, StepResult{Status: StepDegraded, Reason: err.Error()}
	}
	return id, StepResult{Status: StepOK}
}

// withStep attributes an application error to step; other errors pass through.
func withStep(err error, step apperr.Step) error {
	if appErr, ok := apperr.As(err); ok {
		return appErr.WithStep(step)
	}
	return err
}

// detectLanguage returns the ISO 639-1 code of text, or "" when detection is unreliable.
func detectLanguage(text string) string {
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}

// Summary renders an outcome for logs and the CLI.
func (o *Outcome) Summary() string {
	audio := "no audio"
	if o.HasAudio() {
		audio = fmt.Sprintf("%d bytes of %s", len(o.Audio), o.AudioType)
	}
	return fmt.Sprintf("caption=%q language=%s record=%d audio=%s", o.Caption, o.Language, o.RecordID, audio)
}
