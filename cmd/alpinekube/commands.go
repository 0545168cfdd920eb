package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cuemby/alpinekube/pkg/api"
	"github.com/cuemby/alpinekube/pkg/events"
	"github.com/cuemby/alpinekube/pkg/storage"
	"github.com/spf13/cobra"
)

// Node commands
var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage nodes",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register NODE_ID",
	Short: "Register a node and start its environment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetInt("cpu")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		node, err := c.RegisterNode(ctx, args[0], cpu)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node %s registered with %d CPU\n", node.ID, node.TotalCPU)
		return nil
	},
}

var nodeHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat NODE_ID",
	Short: "Send a single heartbeat for a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		if err := c.Heartbeat(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Heartbeat recorded for %s\n", args[0])
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		nodes, err := c.ListNodes(ctx, state)
		if err != nil {
			return err
		}
		printNodes(os.Stdout, nodes, time.Now())
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeRegisterCmd)
	nodeCmd.AddCommand(nodeHeartbeatCmd)
	nodeCmd.AddCommand(nodeListCmd)

	nodeRegisterCmd.Flags().Int("cpu", 0, "Number of CPUs the node offers")
	nodeRegisterCmd.MarkFlagRequired("cpu")
	nodeListCmd.Flags().String("state", "", "Only list nodes in this state (healthy or unhealthy)")
}

// Pod commands
var podCmd = &cobra.Command{
	Use:   "pod",
	Short: "Manage pods",
}

var podSubmitCmd = &cobra.Command{
	Use:   "submit POD_ID",
	Short: "Submit a pod for best-fit placement",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cpu, _ := cmd.Flags().GetInt("cpu")
		duration, _ := cmd.Flags().GetDuration("duration")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		pod, err := c.SubmitPod(ctx, args[0], cpu, duration)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Pod %s running on %s for %s\n", pod.ID, pod.NodeID, pod.Duration())
		return nil
	},
}

var podGetCmd = &cobra.Command{
	Use:   "get POD_ID",
	Short: "Show a pod",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		pod, err := c.GetPod(ctx, args[0])
		if err != nil {
			return err
		}
		printPods(os.Stdout, []*api.Pod{pod})
		return nil
	},
}

var podListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pods",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		node, _ := cmd.Flags().GetString("node")

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		pods, err := c.ListPods(ctx, status, node)
		if err != nil {
			return err
		}
		printPods(os.Stdout, pods)
		return nil
	},
}

func init() {
	podCmd.AddCommand(podSubmitCmd)
	podCmd.AddCommand(podGetCmd)
	podCmd.AddCommand(podListCmd)

	podSubmitCmd.Flags().Int("cpu", 0, "CPUs requested by the pod")
	podSubmitCmd.Flags().Duration("duration", 0, "How long the pod runs")
	podSubmitCmd.MarkFlagRequired("cpu")
	podSubmitCmd.MarkFlagRequired("duration")
	podListCmd.Flags().String("status", "", "Only list pods with this status")
	podListCmd.Flags().String("node", "", "Only list pods on this node")
}

var waitlistCmd = &cobra.Command{
	Use:   "waitlist",
	Short: "List pods waiting for capacity, in queue order",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx, cancel := callContext(cmd)
		defer cancel()

		pods, err := c.ListWaitlist(ctx)
		if err != nil {
			return err
		}
		printPods(os.Stdout, pods)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream cluster events, or dump the event journal",
	Long: `Without --journal, stream live events from the control plane until
interrupted. With --journal, print the events recorded in a journal file.
The journal is locked while the server runs, so read it after shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		types, _ := cmd.Flags().GetStringSlice("type")
		path, _ := cmd.Flags().GetString("journal")

		if path != "" {
			node, _ := cmd.Flags().GetString("node")
			pod, _ := cmd.Flags().GetString("pod")
			limit, _ := cmd.Flags().GetInt("limit")
			filter := storage.Filter{NodeID: node, PodID: pod, Limit: limit}
			switch len(types) {
			case 0:
			case 1:
				filter.Type = events.EventType(types[0])
			default:
				return fmt.Errorf("--journal accepts a single --type")
			}
			return dumpJournal(os.Stdout, path, filter)
		}

		c, err := dial(cmd)
		if err != nil {
			return err
		}
		defer c.Close()

		stream, err := c.StreamEvents(cmd.Context(), types...)
		if err != nil {
			return err
		}
		for {
			event, err := stream.Recv()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Println(formatEvent(event.Timestamp, event.Type, event.Message))
		}
	},
}

func init() {
	eventsCmd.Flags().StringSlice("type", nil, "Only show events of these types")
	eventsCmd.Flags().String("journal", "", "Read events from this journal file instead of the server")
	eventsCmd.Flags().String("node", "", "Journal only: events for this node")
	eventsCmd.Flags().String("pod", "", "Journal only: events for this pod")
	eventsCmd.Flags().Int("limit", 0, "Journal only: maximum number of events")
}

func dumpJournal(w io.Writer, path string, filter storage.Filter) error {
	journal, err := storage.NewBoltJournal(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	records, err := journal.List(filter)
	if err != nil {
		return err
	}
	for _, r := range records {
		fmt.Fprintf(w, "%6d  %s\n", r.Seq, formatEvent(r.Event.Timestamp, string(r.Event.Type), r.Event.Message))
	}
	return nil
}

func formatEvent(ts time.Time, typ, message string) string {
	return fmt.Sprintf("%s  %-26s %s", ts.Format(time.RFC3339), typ, message)
}

func printNodes(w io.Writer, nodes []*api.Node, now time.Time) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tCPU\tAVAILABLE\tPODS\tLAST HEARTBEAT")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s ago\n",
			n.ID, n.State, n.TotalCPU, n.AvailableCPU,
			orNone(strings.Join(n.AssignedPods, ",")),
			now.Sub(n.LastHeartbeat).Truncate(time.Second))
	}
	tw.Flush()
}

func printPods(w io.Writer, pods []*api.Pod) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tNODE\tCPU\tDURATION\tRESTARTS")
	for _, p := range pods {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
			p.ID, p.Status, orNone(p.NodeID), p.CPURequest, p.Duration(), p.Restarts)
	}
	tw.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
