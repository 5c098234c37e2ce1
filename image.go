// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/seed"
	"github.com/spf13/cobra"
)

func newImageCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Write seeded register tables as a binary image",
		Long: `Build the register tables with the configured sizes, apply the seed and
write them as a binary image that --seed can map at startup.

Layout: coils and discrete inputs one byte each, then holding and input
registers two bytes each, big-endian.`,
		Example: `  modbus-rtu-slave image --seed tables.yaml --out tables.bin
  modbus-rtu-slave image --config slave.yaml --out empty.bin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			m, err := buildModel(cfg.Slave)
			if err != nil {
				return err
			}
			if err := seed.WriteImage(out, m); err != nil {
				return err
			}
			sizes := m.Sizes()
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d coils, %d discrete inputs, %d holding registers, %d input registers\n",
				out, sizes.Coils, sizes.DiscreteInputs, sizes.HoldingRegisters, sizes.InputRegisters)
			return nil
		},
	}
	cmd.Flags().String("seed", "", "YAML document or binary image with initial table values")
	cmd.Flags().StringVarP(&out, "out", "o", "", "image file to write")
	cmd.MarkFlagRequired("out")
	return cmd
}
