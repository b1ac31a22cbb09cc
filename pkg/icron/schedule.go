package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Expression string
	Next       time.Time

	TimeUntilNext time.Duration
}

// Parse accepts standard five-field specs and descriptors such as "@every 1h" or "@hourly".
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	next := schedule.Next(refTime)
	return &TriggerInfo{
		Expression:    cronExpr,
		Next:          next,
		TimeUntilNext: next.Sub(refTime),
	}, nil
}

// NextN returns the next n trigger times after refTime.
func NextN(cronExpr string, refTime time.Time, n int) ([]time.Time, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}
	ret := make([]time.Time, 0, n)
	cur := refTime
	for range n {
		cur = schedule.Next(cur)
		ret = append(ret, cur)
	}
	return ret, nil
}
