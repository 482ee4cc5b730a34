// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command diskfs creates and manipulates diskfs disk images.
//
//	diskfs format --image fs.img --sectors 4096
//	diskfs put --image fs.img hello.txt /hello.txt
//	diskfs ls --image fs.img /
//	diskfs cat --image fs.img /hello.txt
//
// The image path may also come from the DISKFS_IMAGE environment variable.
package main

import (
	"fmt"
	"os"

	"github.com/jacobsa/diskfs"
	"github.com/jacobsa/diskfs/blockdev"
	"github.com/jacobsa/diskfs/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "diskfs",
	Short:         "Create and manipulate diskfs disk images",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logger.Setup(logger.Config{
			Level:    viper.GetString("log-level"),
			FilePath: viper.GetString("log-file"),
		})
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("image", "", "path of the disk image file")
	pf.String("log-level", "info", "one of debug, info, warn, error, off")
	pf.String("log-file", "", "write logs to this file instead of stderr")

	viper.BindPFlags(pf)
	viper.SetEnvPrefix("diskfs")
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		formatCmd,
		lsCmd,
		mkdirCmd,
		putCmd,
		getCmd,
		catCmd,
		rmCmd,
		statCmd,
	)
}

// Open the image named by the --image flag and mount it.
func mountImage() (*diskfs.FileSystem, *blockdev.FileDevice, error) {
	path := viper.GetString("image")
	if path == "" {
		return nil, nil, fmt.Errorf("no image given; use --image or DISKFS_IMAGE")
	}

	dev, err := blockdev.OpenImage(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening image: %w", err)
	}

	fs, err := diskfs.Mount(diskfs.Config{Device: dev})
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("mounting: %w", err)
	}

	return fs, dev, nil
}

func unmount(fs *diskfs.FileSystem, dev *blockdev.FileDevice) error {
	if err := fs.Shutdown(); err != nil {
		dev.Close()
		return err
	}

	return dev.Close()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "diskfs: %v\n", err)
		os.Exit(1)
	}
}
