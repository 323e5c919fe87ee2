// Command taskmeshctl is a thin producer CLI for the orchestrator's
// HTTP API: submit tasks, poll status, cancel, and list workers.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/taskmesh/taskmesh/internal/cli/output"
	"github.com/taskmesh/taskmesh/internal/domain"
)

func main() {
	output.AutoDetectColors()

	var orchestratorAddr, token string

	rootCmd := &cobra.Command{
		Use:   "taskmeshctl",
		Short: "CLI client for the taskmesh orchestrator",
	}
	rootCmd.PersistentFlags().StringVar(&orchestratorAddr, "orchestrator", envOr("TASKMESH_ORCHESTRATOR", "http://localhost:8080"), "Orchestrator base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("TASKMESH_TOKEN"), "Bearer token")

	rootCmd.AddCommand(
		newSubmitCmd(&orchestratorAddr, &token),
		newStatusCmd(&orchestratorAddr, &token),
		newCancelCmd(&orchestratorAddr, &token),
		newWorkersCmd(&orchestratorAddr, &token),
		newOrchestratorStatusCmd(&orchestratorAddr, &token),
		newHealthCmd(&orchestratorAddr, &token),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, output.Error(err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newSubmitCmd(addr, token *string) *cobra.Command {
	var (
		taskType     string
		priority     int
		capsFlag     []string
		messageText  string
		shellCommand string
		shellDir     string
		ttl          time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a task to the orchestrator",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := domain.TaskPayload{}
			switch domain.TaskType(taskType) {
			case domain.TaskTypeLLMChat:
				if messageText == "" {
					return fmt.Errorf("--message is required for task type %q", taskType)
				}
				payload.Messages = []domain.ChatMessage{{Role: "user", Content: messageText}}
			case domain.TaskTypeShellExec:
				if shellCommand == "" {
					return fmt.Errorf("--command is required for task type %q", taskType)
				}
				payload.Shell = &domain.ShellPayload{Command: shellCommand, WorkingDir: shellDir}
			default:
				return fmt.Errorf("unsupported task type %q for submit (use llm_chat or shell_exec)", taskType)
			}

			req := map[string]any{
				"type":                  taskType,
				"data":                  payload,
				"priority":              priority,
				"required_capabilities": capsFlag,
			}
			if ttl > 0 {
				req["expires_at"] = time.Now().Add(ttl)
			}

			client := newClient(*addr, *token)
			var resp struct {
				TaskID string `json:"task_id"`
				Status string `json:"status"`
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/tasks/submit", req, &resp); err != nil {
				return err
			}
			fmt.Printf("%s task_id=%s status=%s\n", output.Success("submitted"), resp.TaskID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&taskType, "type", "llm_chat", "Task type: llm_chat or shell_exec")
	cmd.Flags().IntVar(&priority, "priority", 5, "Priority 1 (lowest) to 10 (highest)")
	cmd.Flags().StringSliceVar(&capsFlag, "capabilities", nil, "Required worker capabilities")
	cmd.Flags().StringVar(&messageText, "message", "", "User message for an llm_chat task")
	cmd.Flags().StringVar(&shellCommand, "command", "", "Shell command for a shell_exec task")
	cmd.Flags().StringVar(&shellDir, "working-dir", "", "Working directory for a shell_exec task")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Task expires after this duration if still pending (0 disables)")
	return cmd
}

func newStatusCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Show a task's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(*addr, *token)
			var task domain.Task
			if err := client.do(cmd.Context(), http.MethodGet, "/api/tasks/status/"+args[0], nil, &task); err != nil {
				return err
			}
			printTask(&task)
			return nil
		},
	}
}

func newCancelCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task_id>",
		Short: "Cancel a pending task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(*addr, *token)
			if err := client.do(cmd.Context(), http.MethodDelete, "/api/tasks/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Println(output.Success("cancelled"))
			return nil
		},
	}
}

func newWorkersCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(*addr, *token)
			var resp struct {
				Workers []*domain.Worker `json:"workers"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/api/workers/list", nil, &resp); err != nil {
				return err
			}

			online := 0
			infos := make([]output.WorkerInfo, len(resp.Workers))
			for i, w := range resp.Workers {
				if w.Status != domain.WorkerStatusDead {
					online++
				}
				infos[i] = output.WorkerInfo{
					ID:             w.ID,
					Type:           w.Type,
					Capabilities:   w.Capabilities,
					TasksCompleted: w.TasksCompleted,
					TasksFailed:    w.TasksFailed,
					AssignedTaskID: w.AssignedTaskID,
					Status:         string(w.Status),
				}
			}
			output.PrintWorkersTable(infos, len(resp.Workers), online)
			return nil
		},
	}
}

func newOrchestratorStatusCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "orchestrator-status",
		Short: "Show orchestrator health, queue depth, and worker count",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(*addr, *token)
			var health struct {
				Status        string `json:"status"`
				WorkersOnline int    `json:"workers_online"`
				TasksPending  int    `json:"tasks_pending"`
			}
			if err := client.do(cmd.Context(), http.MethodGet, "/health", nil, &health); err != nil {
				return err
			}
			output.PrintStatus(output.StatusInfo{
				Address:       *addr,
				Healthy:       health.Status == "ok",
				TasksPending:  health.TasksPending,
				WorkersOnline: health.WorkersOnline,
			})
			return nil
		},
	}
}

func newHealthCmd(addr, token *string) *cobra.Command {
	return &cobra.Command{
		Use:   "llm-health",
		Short: "Show LLM fallback provider health and cooldown state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient(*addr, *token)
			var llmHealth any
			if err := client.do(cmd.Context(), http.MethodGet, "/api/llm/health", nil, &llmHealth); err != nil {
				return err
			}
			b, _ := json.MarshalIndent(llmHealth, "", "  ")
			fmt.Println(output.Bold("llm fallback providers:"))
			fmt.Println(string(b))
			return nil
		},
	}
}

func printTask(task *domain.Task) {
	table := output.NewTable([]string{})
	table.Append([]string{"Task ID:", task.ID})
	table.Append([]string{"Type:", string(task.Type)})
	table.Append([]string{"Status:", output.StatusLabel(string(task.Status))})
	table.Append([]string{"Priority:", fmt.Sprintf("%d", task.Priority)})
	if task.AssignedWorkerID != "" {
		table.Append([]string{"Worker:", task.AssignedWorkerID})
	}
	if task.FailureReason != "" {
		table.Append([]string{"Failure:", output.Error(task.FailureReason)})
	}
	if task.Result != nil {
		b, _ := json.Marshal(task.Result)
		table.Append([]string{"Result:", string(b)})
	}
	table.Render()
}

type client struct {
	baseURL string
	token   string
	http    *http.Client
}

func newClient(baseURL, token string) *client {
	return &client{baseURL: baseURL, token: token, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Reason string `json:"reason"`
			Detail string `json:"detail"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("orchestrator returned %d: %s: %s", resp.StatusCode, e.Reason, e.Detail)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
