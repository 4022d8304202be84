package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/mobile-next/droidcap/commands"
	"github.com/mobile-next/droidcap/utils"
	"github.com/spf13/cobra"
)

var screenshotCmd = &cobra.Command{
	Use:   "screenshot",
	Short: "Take a screenshot of a connected device",
	Long:  `Takes a screenshot from the live minicap stream of a device and saves it as PNG or JPEG.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := commands.ScreenshotRequest{
			DeviceID:   deviceId,
			Format:     screenshotFormat,
			Quality:    screenshotJpegQuality,
			OutputPath: screenshotOutputPath,
		}

		response := commands.ScreenshotCommand(cmd.Context(), req)

		// binary data goes to stdout untouched
		if screenshotOutputPath == "-" && response.Status == "ok" {
			if screenshotResp, ok := response.Data.(commands.ScreenshotResponse); ok && screenshotResp.Data != "" {
				imageBytes, err := base64.StdEncoding.DecodeString(screenshotResp.Data)
				if err != nil {
					return fmt.Errorf("failed to decode image data: %w", err)
				}
				if _, err := os.Stdout.Write(imageBytes); err != nil {
					return fmt.Errorf("failed to write to stdout: %w", err)
				}
				return nil
			}
		}

		return printResponse(response)
	},
}

var screencaptureCmd = &cobra.Command{
	Use:   "screencapture",
	Short: "Stream screen capture from a connected device",
	Long:  `Streams the screen of a device as multipart MJPEG to stdout or a file until interrupted.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var out io.Writer = os.Stdout
		if screencaptureOutput != "" && screencaptureOutput != "-" {
			file, err := os.Create(screencaptureOutput)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", screencaptureOutput, err)
			}
			defer file.Close()
			out = file
		}

		req := commands.ScreenCaptureRequest{
			DeviceID: deviceId,
			Format:   screencaptureFormat,
			Quality:  screencaptureQuality,
			Scale:    screencaptureScale,
		}

		err := commands.ScreenCaptureCommand(cmd.Context(), req, func(data []byte) bool {
			if _, writeErr := out.Write(data); writeErr != nil {
				utils.Error("Error writing data: %v", writeErr)
				return false
			}
			return true
		})
		if err != nil {
			response := commands.NewErrorResponse(err)
			printJson(response)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(screenshotCmd)
	rootCmd.AddCommand(screencaptureCmd)

	screenshotCmd.Flags().StringVarP(&screenshotOutputPath, "output", "o", "", "Output file path for screenshot (e.g., screen.png, or '-' for stdout)")
	screenshotCmd.Flags().StringVarP(&screenshotFormat, "format", "f", "png", "Output format for screenshot (png or jpeg)")
	screenshotCmd.Flags().IntVarP(&screenshotJpegQuality, "quality", "q", 0, "JPEG quality (1-100); 0 keeps the frame as minicap encoded it")

	screencaptureCmd.Flags().StringVarP(&screencaptureFormat, "format", "f", "mjpeg", "Output format for screen capture")
	screencaptureCmd.Flags().StringVarP(&screencaptureOutput, "output", "o", "-", "Output file for the stream, '-' for stdout")
	screencaptureCmd.Flags().IntVarP(&screencaptureQuality, "quality", "q", 0, "JPEG quality minicap encodes with (1-100)")
	screencaptureCmd.Flags().Float64Var(&screencaptureScale, "scale", 0, "Scale of the captured frames (0.1-1.0)")
}
