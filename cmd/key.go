package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/martinemde/harness/server"
)

func keyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the SSH deploy key used for clones and pushes",
	}
	cmd.AddCommand(keySetCmd(opts), keyShowCmd(opts), keyClearCmd(opts))
	return cmd
}

func keySetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set [file]",
		Short: "Store a private key from a file, or stdin when no file is given",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if len(args) == 1 {
				data, err = os.ReadFile(args[0])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}
			ks := server.NewKeyStore(opts.sshKeyPath())
			if err := ks.Save(string(data)); err != nil {
				return err
			}
			fmt.Println("key stored at", ks.Path())
			return nil
		},
	}
}

func keyShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Report whether a deploy key is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks := server.NewKeyStore(opts.sshKeyPath())
			if ks.Present() {
				fmt.Println("key present at", ks.Path())
			} else {
				fmt.Println("no key stored")
			}
			return nil
		},
	}
}

func keyClearCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored deploy key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks := server.NewKeyStore(opts.sshKeyPath())
			if err := ks.Delete(); err != nil {
				return err
			}
			fmt.Println("key removed")
			return nil
		},
	}
}
