package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	sendTo        string
	sendFrom      string
	sendBroadcast bool
)

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send an instruction or peer message to workers",
	Long: `Send writes a message into a worker's coordination files and wakes
its pane. Without --from, the message is a leader instruction appended
to the worker's inbox. With --from, it is a peer message delivered to
the recipient's mailbox; --broadcast sends it to every worker instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendTo, "to", "", "recipient worker name")
	sendCmd.Flags().StringVar(&sendFrom, "from", "", "sender worker name (peer message)")
	sendCmd.Flags().BoolVar(&sendBroadcast, "broadcast", false, "send to every worker")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	m, logger, err := newManager()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	body := strings.Join(args, " ")

	switch {
	case sendBroadcast:
		from := sendFrom
		if from == "" {
			from = "leader"
		}
		id, err := m.Broadcast(from, body)
		if err != nil {
			return err
		}
		fmt.Printf("Broadcast %s sent\n", id)
		return nil

	case sendFrom != "":
		if sendTo == "" {
			return fmt.Errorf("--to is required for a peer message")
		}
		id, err := m.Message(sendFrom, sendTo, body)
		if err != nil {
			return err
		}
		fmt.Printf("Message %s delivered to %s\n", id, sendTo)
		return nil

	default:
		if sendTo == "" {
			return fmt.Errorf("--to is required")
		}
		if err := m.Instruct(sendTo, body); err != nil {
			return err
		}
		fmt.Printf("Instruction appended to %s's inbox\n", sendTo)
		return nil
	}
}
