package distributed

import (
	"context"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// StartWorker connects to the Temporal frontend at hostPort and runs a
// worker on taskQueue within namespace, registering BuildWorkflow and the
// activities backed by activities. Blocks until interrupted. Grounded on
// the teacher's StartWorker (internal/temporal/worker.go): dial, construct
// a worker.Worker, register workflows/activities, run.
func StartWorker(hostPort, namespace, taskQueue string, activities *Activities, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, taskQueue, worker.Options{})

	w.RegisterWorkflow(BuildWorkflow)
	w.RegisterActivity(activities.AnalyzeActivity)
	w.RegisterActivity(activities.ExecuteActivity)

	logger.Info("distributed worker starting", "task_queue", taskQueue, "namespace", namespace)
	return w.Run(worker.InterruptCh())
}

// SubmitBuild starts a BuildWorkflow execution on the given task queue and
// returns its workflow run, without waiting for completion.
func SubmitBuild(ctx context.Context, c client.Client, taskQueue, workflowID string, req BuildRequest) (client.WorkflowRun, error) {
	return c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: taskQueue,
	}, BuildWorkflow, req)
}
