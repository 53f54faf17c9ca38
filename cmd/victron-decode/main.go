package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mjasion/balena-home/victron/pkg/devices"
	"github.com/mjasion/balena-home/victron/pkg/readout"
)

var (
	rootCmd = &cobra.Command{
		Use:   "victron-decode [hex]",
		Short: "Decode Victron Instant Readout advertisements",
		Long: "victron-decode decodes the manufacturer data of Victron BLE advertisements.\n" +
			"Without an argument it reads one hex payload per line from stdin.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyFlag()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return runInteractive(cmd.InOrStdin(), cmd.OutOrStdout(), key)
			}
			return runDecode(cmd.OutOrStdout(), args[0], key)
		},
	}

	encryptCmd = &cobra.Command{
		Use:   "encrypt <plaintext-hex>",
		Short: "Build an encrypted advertisement from a plaintext record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKeyFlag()
			if err != nil {
				return err
			}
			if key == nil {
				return errors.New("--key is required to encrypt")
			}
			plaintext, err := parseHex(args[0])
			if err != nil {
				return err
			}
			data, err := buildAdvertisement(plaintext, key, prefix, modelID, readoutType, iv)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return nil
		},
	}

	typesCmd = &cobra.Command{
		Use:   "types",
		Short: "List the readout types this build can decode",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, t := range devices.Supported() {
				fmt.Fprintf(cmd.OutOrStdout(), "0x%02X\n", t)
			}
		},
	}

	keyHex        string
	withCompanyID bool
	prefix        uint16
	modelID       uint16
	readoutType   uint8
	iv            uint16
)

func init() {
	rootCmd.PersistentFlags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte encryption key (32 hex chars)")
	rootCmd.Flags().BoolVar(&withCompanyID, "company-id", false, "input starts with the E1 02 company ID")

	encryptCmd.Flags().Uint16Var(&prefix, "prefix", 0x0010, "record prefix")
	encryptCmd.Flags().Uint16Var(&modelID, "model", 0xA3C0, "model ID")
	encryptCmd.Flags().Uint8Var(&readoutType, "type", devices.ReadoutTypeDcDcConverter, "readout type")
	encryptCmd.Flags().Uint16Var(&iv, "iv", 0, "initialization vector")

	rootCmd.AddCommand(encryptCmd, typesCmd)
}

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	ctx := context.Background()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatal(err)
	}
}

func parseKeyFlag() ([]byte, error) {
	if keyHex == "" {
		return nil, nil
	}
	key, err := readout.ParseKey(keyHex)
	if err != nil {
		return nil, errors.Wrap(err, "invalid --key")
	}
	return key, nil
}

func runInteractive(in io.Reader, out io.Writer, key []byte) error {
	scanner := bufio.NewScanner(in)
	logrus.Info("victron-decode interactive mode. Paste a hex payload and press Enter (Ctrl+D to exit).")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := runDecode(out, line, key); err != nil {
			logrus.WithError(err).Error("failed to decode advertisement")
		}
	}
	return scanner.Err()
}

func runDecode(out io.Writer, input string, key []byte) error {
	data, err := parseHex(input)
	if err != nil {
		return err
	}
	if withCompanyID {
		data = stripCompanyID(data)
	}

	a, err := analyze(data, key)
	if a != nil {
		fmt.Fprint(out, a.String())
	}
	return err
}
