// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonysyzer69/smart-proxy-ipam/pkg/ipaddr"
	"github.com/tonysyzer69/smart-proxy-ipam/plugins/extipamctl/remote"
)

type options struct {
	agent      string
	configFile string
	group      string
	timeout    time.Duration
}

// NewRootCommand builds the extipamctl command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "extipamctl",
		Short:        "Client of the external IPAM agent",
		SilenceUsage: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.agent, "agent", "", "address of the agent REST API (default "+remote.DefaultAgent+")")
	flags.StringVar(&opts.configFile, "config", "", "client configuration file (env "+remote.ConfigEnv+")")
	flags.StringVar(&opts.group, "group", "", "allocation group of the subnet")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	cmdNextIP := &cobra.Command{
		Use:   "next-ip CIDR",
		Short: "Suggests the next free address of the subnet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mac, _ := cmd.Flags().GetString("mac")
			if mac == "" {
				return fmt.Errorf("--mac is required")
			}
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				reply, err := client.NextIP(ctx, args[0], mac, opts.group)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if reply.Address == nil {
					fmt.Fprintf(out, "%s: %s\n", reply.Status, reply.Message)
					return nil
				}
				fmt.Fprintf(out, "%v (%s)\n", reply.Address, reply.Status)
				if reply.Warning != "" {
					fmt.Fprintf(out, "warning: %s\n", reply.Warning)
				}
				return nil
			})
		},
	}
	cmdNextIP.Flags().String("mac", "", "MAC address of the requester")

	cmdSubnet := &cobra.Command{
		Use:   "subnet CIDR",
		Short: "Shows the subnet record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				subnet, err := client.Subnet(ctx, args[0], opts.group)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", subnet.ID, subnet.CIDR, subnet.Description)
				return nil
			})
		},
	}

	cmdReserve := &cobra.Command{
		Use:   "reserve CIDR IP",
		Short: "Reserves the address in the external IPAM",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := ipaddr.Parse(args[1])
			if err != nil {
				return err
			}
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				return client.Reserve(ctx, args[0], ip, opts.group)
			})
		},
	}

	cmdRelease := &cobra.Command{
		Use:   "release CIDR IP",
		Short: "Releases the address in the external IPAM",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := ipaddr.Parse(args[1])
			if err != nil {
				return err
			}
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				return client.Release(ctx, args[0], ip, opts.group)
			})
		},
	}

	cmdGroups := &cobra.Command{
		Use:   "groups",
		Short: "Lists allocation groups",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				groups, err := client.Groups(ctx)
				if err != nil {
					return err
				}
				w := getTabWriter(cmd.OutOrStdout())
				fmt.Fprintf(w, "ID\tNAME\tDESCRIPTION\n")
				for _, group := range groups {
					fmt.Fprintf(w, "%s\t%s\t%s\n", group.ID, group.Name, group.Description)
				}
				return w.Flush()
			})
		},
	}

	cmdCache := &cobra.Command{
		Use:   "cache",
		Short: "Shows addresses cached by the agent",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(func(ctx context.Context, client *remote.HTTPClient) error {
				allocations, err := client.Cache(ctx)
				if err != nil {
					return err
				}
				w := getTabWriter(cmd.OutOrStdout())
				fmt.Fprintf(w, "GROUP\tSUBNET\tMAC\tADDRESS\tISSUED\n")
				for _, alloc := range allocations {
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
						alloc.Group, alloc.CIDR, alloc.MAC, alloc.Address, alloc.IssuedAt.Format(time.RFC3339))
				}
				return w.Flush()
			})
		},
	}

	rootCmd.AddCommand(cmdNextIP)
	rootCmd.AddCommand(cmdSubnet)
	rootCmd.AddCommand(cmdReserve)
	rootCmd.AddCommand(cmdRelease)
	rootCmd.AddCommand(cmdGroups)
	rootCmd.AddCommand(cmdCache)
	return rootCmd
}

func (opts *options) run(f func(ctx context.Context, client *remote.HTTPClient) error) error {
	client, err := remote.CreateHTTPClient(opts.configFile, opts.agent)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	return f(ctx, client)
}

func getTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
}

// Execute will execute the command extipamctl
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
