package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const RangeSeparator = "-"

var (
	ErrInputFormat = errors.New("range format")
	ErrInputRange  = errors.New("range bounds")
)

// RangeInputError carries a reason that is safe to show to the operator.
// errors.Is matches it against ErrInputFormat or ErrInputRange.
type RangeInputError struct {
	Kind   error
	Reason string
}

func (e *RangeInputError) Error() string {
	return e.Reason
}

func (e *RangeInputError) Unwrap() error {
	return e.Kind
}

func formatError(format string, args ...any) error {
	return &RangeInputError{Kind: ErrInputFormat, Reason: fmt.Sprintf(format, args...)}
}

func rangeError(format string, args ...any) error {
	return &RangeInputError{Kind: ErrInputRange, Reason: fmt.Sprintf(format, args...)}
}

// TimeRange is an hour interval [start, end) of the current day.
type TimeRange struct {
	start int
	end   int
}

func (r TimeRange) Start() int { return r.start }

func (r TimeRange) End() int { return r.end }

func (r TimeRange) String() string {
	return fmt.Sprintf("%d%s%d", r.start, RangeSeparator, r.end)
}

func (r TimeRange) Filename() string {
	return DeriveFilename(r.start, r.end)
}

func DeriveFilename(startHour, endHour int) string {
	return fmt.Sprintf("courier_data_%d-%d.xlsx", startHour, endHour)
}

// RangeParser validates "start-end" input. MaxHour > 0 bounds both hours to
// [0, MaxHour]; zero leaves magnitude unchecked.
type RangeParser struct {
	MaxHour int
}

func ParseTimeRange(input string) (TimeRange, error) {
	return RangeParser{}.Parse(input)
}

func (p RangeParser) Parse(input string) (TimeRange, error) {
	trimmed := strings.TrimSpace(input)
	if !strings.Contains(trimmed, RangeSeparator) {
		return TimeRange{}, formatError("диапазон должен быть в формате 'st-end'")
	}

	parts := strings.Split(trimmed, RangeSeparator)
	if len(parts) != 2 {
		return TimeRange{}, formatError("диапазон должен состоять ровно из двух чисел через '%s'", RangeSeparator)
	}

	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return TimeRange{}, formatError("начало периода должно быть целым числом, получено %q", parts[0])
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return TimeRange{}, formatError("конец периода должен быть целым числом, получено %q", parts[1])
	}

	if start >= end {
		return TimeRange{}, rangeError("начало периода должно быть меньше конца периода")
	}
	if p.MaxHour > 0 && (start < 0 || end > p.MaxHour) {
		return TimeRange{}, rangeError("часы должны быть в пределах 0-%d", p.MaxHour)
	}

	return TimeRange{start: start, end: end}, nil
}
