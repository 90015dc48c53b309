package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Recurrence fires once a week at Hour:Minute. Weekday counts from Monday=0
// to Sunday=6 everywhere in this package, unlike time.Weekday.
type Recurrence struct {
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
	Minute  int `json:"minute"`
}

// ParseRecurrence reads the "weekday hour minute" form, e.g. "6 23 59" for
// Sunday at 23:59.
func ParseRecurrence(s string) (Recurrence, error) {
	parts := strings.Fields(s)
	if len(parts) != 3 {
		return Recurrence{}, fmt.Errorf("recurrence %q: want \"weekday hour minute\"", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Recurrence{}, fmt.Errorf("recurrence %q: %q is not a number", s, p)
		}
		nums[i] = n
	}
	r := Recurrence{Weekday: nums[0], Hour: nums[1], Minute: nums[2]}
	if err := r.Validate(); err != nil {
		return Recurrence{}, err
	}
	return r, nil
}

func (r Recurrence) Validate() error {
	switch {
	case r.Weekday < 0 || r.Weekday > 6:
		return fmt.Errorf("weekday %d out of range 0 (Monday) to 6 (Sunday)", r.Weekday)
	case r.Hour < 0 || r.Hour > 23:
		return fmt.Errorf("hour %d out of range 0-23", r.Hour)
	case r.Minute < 0 || r.Minute > 59:
		return fmt.Errorf("minute %d out of range 0-59", r.Minute)
	}
	return nil
}

func (r Recurrence) String() string {
	return fmt.Sprintf("%d %d %d", r.Weekday, r.Hour, r.Minute)
}

// Matches reports whether t, already in the evaluation location, falls in
// the recurrence minute.
func (r Recurrence) Matches(t time.Time) bool {
	return MondayIndex(t) == r.Weekday && t.Hour() == r.Hour && t.Minute() == r.Minute
}

// MondayIndex converts t's weekday to the Monday=0 convention.
func MondayIndex(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
