package storage

import (
	"sort"

	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

func sortByEligibility(jobs []domain.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].ScheduledFor.Equal(jobs[j].ScheduledFor) {
			return jobs[i].ScheduledFor.Before(jobs[j].ScheduledFor)
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
