package jobs

import "github.com/mentorlink/study-agent/internal/infrastructure/scheduler"

// Specs holds the cron expressions of the pipeline jobs.
type Specs struct {
	DailySweep   string
	WeeklySweep  string
	Housekeeping string
}

// DefaultSpecs returns the standard schedule.
func DefaultSpecs() Specs {
	return Specs{
		DailySweep:   scheduler.DailySweepSpec,
		WeeklySweep:  scheduler.WeeklySweepSpec,
		Housekeeping: scheduler.HousekeepingSpec,
	}
}

// Entries is the declarative job list registered with the scheduler.
// Empty specs fall back to the defaults.
func Entries(specs Specs, daily *DailySweepJob, weekly *WeeklySweepJob, housekeeping *HousekeepingJob) []scheduler.Entry {
	def := DefaultSpecs()
	pick := func(spec, fallback string) string {
		if spec == "" {
			return fallback
		}
		return spec
	}
	return []scheduler.Entry{
		{Spec: pick(specs.Housekeeping, def.Housekeeping), Job: housekeeping},
		{Spec: pick(specs.DailySweep, def.DailySweep), Job: daily},
		{Spec: pick(specs.WeeklySweep, def.WeeklySweep), Job: weekly},
	}
}
