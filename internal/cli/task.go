package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joshnel2/DecentralizedTechSolutions/internal/config"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/daemon"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/httpapi"
	"github.com/joshnel2/DecentralizedTechSolutions/internal/store"
	"github.com/joshnel2/DecentralizedTechSolutions/pkg/models"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

// taskAPI is the queue as seen by the task commands: the worker's HTTP API
// when it is running, the store itself otherwise.
type taskAPI interface {
	Submit(ctx context.Context, req models.SubmitTask) (*models.Task, error)
	List(ctx context.Context, status string, limit int) ([]models.Task, error)
	Get(ctx context.Context, id string) (*models.Task, error)
	Cancel(ctx context.Context, id string) (*models.Task, error)
	Requeue(ctx context.Context, id string) (*models.Task, error)
}

type storeAPI struct{ st store.Store }

func (s storeAPI) Submit(ctx context.Context, req models.SubmitTask) (*models.Task, error) {
	t, err := s.st.Enqueue(ctx, req)
	return &t, err
}

func (s storeAPI) List(ctx context.Context, status string, limit int) ([]models.Task, error) {
	return s.st.List(ctx, status, limit)
}

func (s storeAPI) Get(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.st.Get(ctx, id)
	return &t, err
}

func (s storeAPI) Cancel(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.st.Cancel(ctx, id)
	return &t, err
}

func (s storeAPI) Requeue(ctx context.Context, id string) (*models.Task, error) {
	t, err := s.st.Requeue(ctx, id)
	return &t, err
}

// openTaskAPI returns the queue and a func releasing it.
func openTaskAPI(cmd *cobra.Command) (taskAPI, func(), error) {
	home := config.MustHomeFrom(cmd.Context())
	if st, _ := daemon.Status(cmd.Context(), home); st.Running {
		c, err := apiClient(cmd)
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
	cfg, err := config.Load(home)
	if err != nil {
		return nil, nil, err
	}
	st, err := httpapi.OpenStore(cmd.Context(), cfg.Store.Driver, cfg.Store.DSN, home)
	if err != nil {
		return nil, nil, err
	}
	return storeAPI{st}, func() { _ = st.Close() }, nil
}

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage queued agent tasks",
	}
	cmd.AddCommand(newTaskSubmitCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskShowCmd())
	cmd.AddCommand(newTaskCancelCmd())
	cmd.AddCommand(newTaskRequeueCmd())
	cmd.AddCommand(newTaskEventsCmd())
	return cmd
}

func newTaskSubmitCmd() *cobra.Command {
	var req models.SubmitTask
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <goal>",
		Short: "Queue a goal for the agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Goal = strings.Join(args, " ")
			api, release, err := openTaskAPI(cmd)
			if err != nil {
				return err
			}
			defer release()
			t, err := api.Submit(cmd.Context(), req)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Queued %s (priority %d)\n", t.ID, t.Priority)
			if !wait {
				return nil
			}
			waiter, ok := api.(interface {
				Wait(ctx context.Context, id string, every time.Duration) (*models.Task, error)
			})
			if !ok {
				return fmt.Errorf("--wait needs a running worker (counsel start)")
			}
			done, err := waiter.Wait(cmd.Context(), t.ID, 2*time.Second)
			if err != nil {
				return err
			}
			printTask(cmd.OutOrStdout(), done)
			return nil
		},
	}
	cmd.Flags().IntVar(&req.Priority, "priority", 0, "Higher runs first")
	cmd.Flags().StringVar(&req.UserID, "user", "", "User the task runs for")
	cmd.Flags().StringVar(&req.FirmID, "firm", "", "Firm the task runs for")
	cmd.Flags().StringVar(&req.MatterID, "matter", "", "Matter the task concerns")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the task finishes")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !models.ValidStatus(status) {
				return fmt.Errorf("unknown status %q", status)
			}
			api, release, err := openTaskAPI(cmd)
			if err != nil {
				return err
			}
			defer release()
			tasks, err := api.List(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No tasks")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tCREATED\tGOAL")
			for _, t := range tasks {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Status, t.Priority, t.CreatedAt.Local().Format(time.DateTime), clip(t.Goal, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only tasks in this status (pending, running, completed, failed, cancelled)")
	cmd.Flags().IntVar(&limit, "limit", models.DefaultTaskListLimit, "Maximum tasks to list")
	return cmd
}

func newTaskShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, release, err := openTaskAPI(cmd)
			if err != nil {
				return err
			}
			defer release()
			t, err := api.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), t)
			}
			printTask(cmd.OutOrStdout(), t)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw task record")
	return cmd
}

func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, release, err := openTaskAPI(cmd)
			if err != nil {
				return err
			}
			defer release()
			t, err := api.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", t.ID)
			return nil
		},
	}
}

func newTaskRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Return a failed or cancelled task to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, release, err := openTaskAPI(cmd)
			if err != nil {
				return err
			}
			defer release()
			t, err := api.Requeue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Requeued task %s\n", t.ID)
			return nil
		},
	}
}

func newTaskEventsCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "events <id>",
		Short: "Replay the recorded events of a recent task (needs a running worker)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := apiClient(cmd)
			if err != nil {
				return err
			}
			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			evs, err := c.Events(cmd.Context(), args[0], from)
			if err != nil {
				return err
			}
			for _, ev := range evs {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %s\n", ev.Timestamp.Local().Format(time.TimeOnly), ev.Type, ev.Message)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "Only events newer than this (e.g. 5m)")
	return cmd
}

func printTask(w io.Writer, t *models.Task) {
	_, _ = fmt.Fprintf(w, "ID:       %s\n", t.ID)
	_, _ = fmt.Fprintf(w, "Goal:     %s\n", t.Goal)
	_, _ = fmt.Fprintf(w, "Status:   %s\n", t.Status)
	_, _ = fmt.Fprintf(w, "Priority: %d\n", t.Priority)
	if t.MatterID != "" {
		_, _ = fmt.Fprintf(w, "Matter:   %s\n", t.MatterID)
	}
	_, _ = fmt.Fprintf(w, "Created:  %s\n", t.CreatedAt.Local().Format(time.DateTime))
	if t.CompletedAt != nil {
		_, _ = fmt.Fprintf(w, "Finished: %s\n", t.CompletedAt.Local().Format(time.DateTime))
	}
	if t.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:    %s\n", t.Error)
	}
	if len(t.Result) == 0 {
		return
	}
	r := gjson.ParseBytes(t.Result)
	if s := r.Get("summary").String(); s != "" {
		_, _ = fmt.Fprintf(w, "Summary:  %s\n", s)
	}
	_, _ = fmt.Fprintf(w, "Run:      %s, %d iterations, %.0fs\n", r.Get("complexity").String(), r.Get("iterations").Int(), r.Get("elapsed_seconds").Float())
	for _, f := range r.Get("output_files").Array() {
		_, _ = fmt.Fprintf(w, "Output:   %s\n", f.String())
	}
	var phases []string
	r.Get("irac_analysis").ForEach(func(k, _ gjson.Result) bool {
		phases = append(phases, k.String())
		return true
	})
	if len(phases) > 0 {
		_, _ = fmt.Fprintf(w, "IRAC:     %s\n", strings.Join(phases, ", "))
	}
}

func clip(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
