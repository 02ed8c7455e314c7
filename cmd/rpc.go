package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/camerafleet/orchestrator/internal/mqttdriver"
	"github.com/camerafleet/orchestrator/internal/tasks"
)

var rpcDevice int

var rpcCmd = &cobra.Command{
	Use:   "rpc <instance_id> <method> <params-json>",
	Short: "Invoke a module method on a device and print the reply",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		instance, method, rawParams := args[0], args[1], args[2]

		var params any
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("params must be valid JSON: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		conn, ok := cfg.Device(rpcDevice)
		if !ok {
			return fmt.Errorf("device %d is not declared", rpcDevice)
		}

		driver := mqttdriver.New(conn.DeviceID, fmt.Sprintf("tcp://localhost:%d", conn.MQTTPort), nil, logger)
		if err := driver.Start(cmd.Context()); err != nil {
			return fmt.Errorf("connect to broker on port %d: %w", conn.MQTTPort, err)
		}
		defer driver.Disconnect()

		reply, err := tasks.IssueRPC(cmd.Context(), driver, conn.DeviceType, method, instance, params, 30*time.Second)
		if err != nil {
			return err
		}
		fmt.Println(string(reply))
		return nil
	},
}

func init() {
	rpcCmd.Flags().IntVar(&rpcDevice, "device", 0, "Declared device to target")
	_ = rpcCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(rpcCmd)
}
