package executor

import (
	"context"
	"errors"
	"log/slog"

	"bookpipeline/internal/platform/workerapi"
)

// WorkerClient is the subset of the worker queue API the remote executor uses.
type WorkerClient interface {
	Submit(ctx context.Context, req workerapi.JobRequest) (*workerapi.JobAccepted, error)
	Get(ctx context.Context, jobID string) (*workerapi.JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
}

// RemoteExecutor runs pipeline jobs on the remote worker queue. The job id
// doubles as run id and handle.
type RemoteExecutor struct {
	client WorkerClient
	logger *slog.Logger
}

func NewRemoteExecutor(client WorkerClient, logger *slog.Logger) *RemoteExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteExecutor{client: client, logger: logger.With("component", "remote_executor")}
}

func (e *RemoteExecutor) Dispatch(ctx context.Context, target string, req DispatchRequest) (Dispatch, error) {
	accepted, err := e.client.Submit(ctx, workerapi.JobRequest{
		Queue:         target,
		Environment:   string(req.Environment),
		BatchID:       req.BatchID,
		Source:        req.Source,
		BooklistRef:   req.BooklistRef,
		Items:         req.Items,
		CallbackToken: req.CallbackToken,
	})
	if err != nil {
		return Dispatch{}, err
	}
	return Dispatch{
		RunID:  accepted.ID,
		Kind:   KindRemote,
		Target: target,
		Handle: accepted.ID,
		LogRef: accepted.LogURL,
	}, nil
}

func (e *RemoteExecutor) Status(ctx context.Context, runID, handle string) (Status, error) {
	job, err := e.client.Get(ctx, jobID(runID, handle))
	if err != nil {
		if errors.Is(err, workerapi.ErrJobNotFound) {
			return Status{}, ErrRunUnknown
		}
		return Status{}, err
	}
	return fromJob(job), nil
}

func (e *RemoteExecutor) Stop(ctx context.Context, runID, handle string) error {
	err := e.client.Cancel(ctx, jobID(runID, handle))
	if errors.Is(err, workerapi.ErrJobNotFound) {
		return ErrRunUnknown
	}
	return err
}

func jobID(runID, handle string) string {
	if handle != "" {
		return handle
	}
	return runID
}

func fromJob(job *workerapi.JobStatus) Status {
	st := Status{
		State:          State(job.Status),
		Stage:          job.Stage,
		ElapsedSeconds: job.ElapsedSeconds,
		CurrentItem:    job.CurrentItem,
		LogTail:        job.LogTail,
		Error:          job.Error,
		Total:          job.Total,
		Tally: Tally{
			Success:    job.Tally.Success,
			Failed:     job.Tally.Failed,
			Skipped:    job.Tally.Skipped,
			Duplicates: job.Tally.Duplicates,
		},
	}
	for _, n := range job.Nodes {
		st.Nodes = append(st.Nodes, NodeStatus{Name: n.Name, Total: n.Total, Processed: n.Processed, Status: n.Status})
	}
	for _, it := range job.Items {
		st.Items = append(st.Items, ItemResult{Ref: it.Ref, Title: it.Title, Author: it.Author, Outcome: it.Outcome, Error: it.Error})
	}
	return st
}
