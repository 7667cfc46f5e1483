package api

import (
	"context"
	"fmt"
	"log"

	"github.com/pointgrid/server/internal/jobstore"
)

// ExportExecutor returns the job executor that runs GeoJSON exports against
// the registered datasets. Wire it into a JobManager before Start.
func ExportExecutor(registry *DatasetRegistry) func(ctx context.Context, store *jobstore.Store, jobID string) error {
	return func(ctx context.Context, store *jobstore.Store, jobID string) error {
		job, err := store.GetJob(jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job not found: %s", jobID)
		}

		svc := registry.Get(job.Params.DatasetID)
		if svc == nil {
			return fmt.Errorf("dataset not found: %s", job.Params.DatasetID)
		}

		cellCount := 0
		progress := func(done, total int) {
			cellCount = total
			if err := store.UpdateJobProgress(jobID, "exporting", done, total); err != nil {
				log.Printf("[Export] job %s: failed to update progress: %v", jobID, err)
			}
		}

		data, err := svc.ExportGeoJSON(ctx, job.Params.Layer, progress)
		if err != nil {
			return err
		}

		if err := store.SaveResult(jobID, "application/geo+json", data); err != nil {
			return fmt.Errorf("failed to save result: %w", err)
		}
		if err := store.UpdateJobResult(jobID, cellCount, int64(len(data))); err != nil {
			return fmt.Errorf("failed to record result size: %w", err)
		}
		return nil
	}
}
