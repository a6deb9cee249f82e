// Copyright 2024 The mysqlconn Authors.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"
	"strings"

	"github.com/neowu/mysqlconn/lib/config"
	"github.com/neowu/mysqlconn/lib/util/cmd"
	"github.com/neowu/mysqlconn/lib/util/errors"
	"github.com/neowu/mysqlconn/pkg/client"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   os.Args[0],
		Short: "mysql wire protocol client",
	}
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	cfg := config.NewConfig()
	var configFile string
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "client config file path")
	rootCmd.PersistentFlags().StringVar(&cfg.Addr, "addr", cfg.Addr, "server address")
	rootCmd.PersistentFlags().StringVar(&cfg.User, "user", cfg.User, "user name")
	rootCmd.PersistentFlags().StringVar(&cfg.Password, "password", "", "password")
	rootCmd.PersistentFlags().StringVar(&cfg.Database, "database", "", "default database")
	rootCmd.PersistentFlags().StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level")

	connect := func(c *cobra.Command) (*client.Conn, error) {
		if configFile != "" {
			if err := cfg.LoadFile(configFile); err != nil {
				return nil, err
			}
		}
		if err := cfg.Check(); err != nil {
			return nil, err
		}
		lg, _, _, err := cmd.BuildLogger(&cfg.Log)
		if err != nil {
			return nil, err
		}
		conn := client.NewConn(cfg, lg)
		if err := conn.Connect(c.Context()); err != nil {
			return nil, err
		}
		return conn, nil
	}

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "check that the server answers on the wire protocol",
		RunE: func(c *cobra.Command, _ []string) error {
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer func() {
				_ = conn.Close()
			}()
			if err := conn.Ping(); err != nil {
				return err
			}
			c.Printf("server %s is alive, connection id %d\n", conn.ServerVersion(), conn.ConnID())
			return nil
		},
	}
	rootCmd.AddCommand(pingCmd)

	queryCmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "run one statement and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			conn, err := connect(c)
			if err != nil {
				return err
			}
			defer func() {
				_ = conn.Close()
			}()
			res, err := conn.Query(args[0])
			if err != nil && !(errors.Is(err, client.ErrDataTruncation) && res != nil) {
				return err
			}
			for ; res != nil; res = res.NextResult {
				printResult(c, res)
			}
			return nil
		},
	}
	rootCmd.AddCommand(queryCmd)

	cmd.RunRootCommand(rootCmd)
}

func printResult(c *cobra.Command, res *client.Result) {
	if !res.HasResultSet() {
		c.Printf("OK, %d rows affected", res.AffectedRows)
		if res.InsertID > 0 {
			c.Printf(", last insert id %d", res.InsertID)
		}
		if res.Warnings > 0 {
			c.Printf(", %d warnings", res.Warnings)
		}
		c.Println()
		return
	}
	names := make([]string, len(res.Columns))
	for i, col := range res.Columns {
		names[i] = col.Name
	}
	c.Println(strings.Join(names, "\t"))
	for _, row := range res.Rows {
		values := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				values[i] = "NULL"
			} else {
				values[i] = string(v)
			}
		}
		c.Println(strings.Join(values, "\t"))
	}
	c.Printf("%d rows in set\n", len(res.Rows))
}
