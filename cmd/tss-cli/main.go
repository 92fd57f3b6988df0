// Command tss-cli is the front end for the threshold signature service:
// it runs the rendezvous manager, the keygen ceremony, public-key
// derivation, signing sessions and legacy fragment conversion.
package main

import (
	"crypto/elliptic"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bnb-chain/tss-lib/crypto"
	logging "github.com/ipfs/go-log"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/cryptochill/tss-ecdsa-cli/ecdsa"
	"github.com/cryptochill/tss-ecdsa-cli/eddsa"
	"github.com/cryptochill/tss-ecdsa-cli/hdkeys"
	"github.com/cryptochill/tss-ecdsa-cli/manager"
)

const defaultManagerAddr = "http://127.0.0.1:8001"

var (
	flagAddr string
	flagAlg  string
	flagPath string
)

func main() {
	for _, system := range []string{"tss-cli", "tss-cli/manager", "tss-cli/ecdsa", "tss-cli/eddsa"} {
		_ = logging.SetLogLevel(system, "info")
	}
	root := &cobra.Command{
		Use:           "tss-cli",
		Short:         "Threshold signature utility",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(managerCmd(), keygenCmd(), pubkeyCmd(), signCmd(), convertCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseParams splits a "t/n" threshold spec, e.g. 1/3 for a 2-of-3 scheme
// (any t+1 of the n parties sign).
func parseParams(spec string) (threshold, parties uint16, err error) {
	parts := strings.Split(spec, "/")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("malformed threshold params %q, want t/n", spec)
	}
	t, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "threshold %q", parts[0])
	}
	n, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "parties %q", parts[1])
	}
	if n == 0 || t >= n {
		return 0, 0, errors.Errorf("threshold params %q must satisfy t < n, n > 0", spec)
	}
	return uint16(t), uint16(n), nil
}

// parseMessage accepts a hex string and falls back to the raw ASCII bytes.
func parseMessage(s string) []byte {
	if b, err := hex.DecodeString(s); err == nil {
		return b
	}
	return []byte(s)
}

func printJSON(v interface{}) error {
	out, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// printPubkey derives the key at path (if any) and prints the {x, y, path}
// record.
func printPubkey(curve elliptic.Curve, y *crypto.ECPoint, path string) error {
	if path != "" {
		pathVec, err := hdkeys.ParsePath(path)
		if err != nil {
			return err
		}
		if y, _, err = hdkeys.DerivePubKey(curve, y, pathVec); err != nil {
			return err
		}
	}
	return printJSON(map[string]string{
		"x":    y.X().Text(16),
		"y":    y.Y().Text(16),
		"path": path,
	})
}

func managerCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Run the rendezvous manager",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.New().Run(listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8001", "address to listen on")
	return cmd
}

func keygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen <keysfile> <t>/<n>",
		Short: "Run the distributed key generation and write a fragment file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, parties, err := parseParams(args[1])
			if err != nil {
				return err
			}
			switch flagAlg {
			case "ecdsa":
				return ecdsa.RunKeygen(flagAddr, args[0], threshold, parties)
			case "eddsa":
				return eddsa.RunKeygen(flagAddr, args[0], threshold, parties)
			default:
				return errors.Errorf("unknown algorithm %q", flagAlg)
			}
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", defaultManagerAddr, "manager URL")
	cmd.Flags().StringVar(&flagAlg, "alg", "ecdsa", "signature scheme: ecdsa or eddsa")
	return cmd
}

func pubkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubkey <keysfile>",
		Short: "Print the joint public key, optionally derived at a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch flagAlg {
			case "ecdsa":
				fragment, err := ecdsa.ReadFragment(args[0])
				if err != nil {
					return err
				}
				y, err := fragment.JointPublicKey()
				if err != nil {
					return err
				}
				return printPubkey(ecdsa.Curve(), y, flagPath)
			case "eddsa":
				fragment, err := eddsa.ReadFragment(args[0])
				if err != nil {
					return err
				}
				y, err := fragment.JointPublicKey()
				if err != nil {
					return err
				}
				return printPubkey(eddsa.Curve(), y, flagPath)
			default:
				return errors.Errorf("unknown algorithm %q", flagAlg)
			}
		},
	}
	cmd.Flags().StringVar(&flagPath, "path", "", "derivation path, e.g. 1/2/3")
	cmd.Flags().StringVar(&flagAlg, "alg", "ecdsa", "signature scheme: ecdsa or eddsa")
	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <keysfile> <t>/<n> <hex_or_ascii_msg>",
		Short: "Run a threshold signing session",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, _, err := parseParams(args[1])
			if err != nil {
				return err
			}
			message := parseMessage(args[2])
			switch flagAlg {
			case "ecdsa":
				fragment, err := ecdsa.ReadFragment(args[0])
				if err != nil {
					return err
				}
				result, err := ecdsa.Sign(flagAddr, fragment, threshold, message, flagPath)
				if err != nil {
					return err
				}
				return printJSON(result)
			case "eddsa":
				fragment, err := eddsa.ReadFragment(args[0])
				if err != nil {
					return err
				}
				result, err := eddsa.Sign(flagAddr, fragment, threshold, message, flagPath)
				if err != nil {
					return err
				}
				return printJSON(result)
			default:
				return errors.Errorf("unknown algorithm %q", flagAlg)
			}
		},
	}
	cmd.Flags().StringVar(&flagAddr, "addr", defaultManagerAddr, "manager URL")
	cmd.Flags().StringVar(&flagAlg, "alg", "ecdsa", "signature scheme: ecdsa or eddsa")
	cmd.Flags().StringVar(&flagPath, "path", "", "derivation path, e.g. 1/2/3")
	return cmd
}

func convertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert_curv_07_to_09 <in> <out>",
		Short: "Convert a legacy curv-0.7 fragment file to the current encoding",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "reading %s", args[0])
			}
			if fragment, err := ecdsa.ConvertCurv07(data); err == nil {
				return ecdsa.WriteFragment(args[1], fragment)
			}
			fragment, err := eddsa.ConvertCurv07(data)
			if err != nil {
				return errors.Wrap(err, "fragment is not in a known legacy encoding")
			}
			return eddsa.WriteFragment(args[1], fragment)
		},
	}
}
