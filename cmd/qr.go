package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camerafleet/orchestrator/internal/provision"
)

var (
	qrDevice    int
	qrPort      int
	qrHost      string
	qrTLS       bool
	qrNTPServer string
	qrSavePNG   string
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Print the onboarding payload for a camera",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := qrPort
		if qrDevice != 0 {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			conn, ok := cfg.Device(qrDevice)
			if !ok {
				return fmt.Errorf("device %d is not declared", qrDevice)
			}
			port = conn.MQTTPort
		}
		if port == 0 {
			return errors.New("either --device or --port is required")
		}

		if qrSavePNG != "" {
			return errors.New("PNG rendering is handled by the GUI build; pipe the payload into your QR tool of choice")
		}

		enrollment := provision.Enrollment{
			MQTTHost:   qrHost,
			MQTTPort:   port,
			TLSEnabled: qrTLS,
			NTPServer:  qrNTPServer,
		}
		fmt.Println(enrollment.String())
		return nil
	},
}

func init() {
	qrCmd.Flags().IntVar(&qrDevice, "device", 0, "Declared device whose broker port to encode")
	qrCmd.Flags().IntVar(&qrPort, "port", 0, "Broker port to encode (overridden by --device)")
	qrCmd.Flags().StringVar(&qrHost, "host", "192.168.1.1", "Broker host the camera should dial")
	qrCmd.Flags().BoolVar(&qrTLS, "tls", false, "Tell the camera to connect with TLS")
	qrCmd.Flags().StringVar(&qrNTPServer, "ntp-server", "pool.ntp.org", "NTP server for the camera's clock")
	qrCmd.Flags().StringVar(&qrSavePNG, "save-png", "", "Not supported in this build: setting it makes the command fail")
	rootCmd.AddCommand(qrCmd)
}
