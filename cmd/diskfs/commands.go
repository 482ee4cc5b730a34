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

package main

import (
	"fmt"
	"os"

	"github.com/jacobsa/diskfs"
	"github.com/jacobsa/diskfs/blockdev"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var formatSectors uint32

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Create and format a new disk image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("image")
		if path == "" {
			return fmt.Errorf("no image given; use --image or DISKFS_IMAGE")
		}

		dev, err := blockdev.CreateImage(path, blockdev.SectorID(formatSectors))
		if err != nil {
			return fmt.Errorf("creating image: %w", err)
		}

		fs, err := diskfs.Mount(diskfs.Config{Device: dev, Format: true})
		if err != nil {
			dev.Close()
			return fmt.Errorf("formatting: %w", err)
		}

		free := fs.FreeSectors()
		if err := unmount(fs, dev); err != nil {
			return err
		}

		fmt.Printf("formatted %s: %d sectors, %d free\n", path, formatSectors, free)
		return nil
	},
}

func init() {
	formatCmd.Flags().Uint32Var(
		&formatSectors, "sectors", 4096, "size of the image, in sectors")
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 1 {
			path = args[0]
		}

		fs, dev, err := mountImage()
		if err != nil {
			return err
		}
		defer unmount(fs, dev)

		f, err := fs.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		if !f.IsDir() {
			return fmt.Errorf("%s: not a directory", path)
		}

		for {
			name, ok := f.ReadDir()
			if !ok {
				break
			}

			fmt.Println(name)
		}

		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir path",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage()
		if err != nil {
			return err
		}

		if err := fs.MkDir(args[0]); err != nil {
			unmount(fs, dev)
			return err
		}

		return unmount(fs, dev)
	},
}

var putCmd = &cobra.Command{
	Use:   "put host_path image_path",
	Short: "Copy a host file into the image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		fs, dev, err := mountImage()
		if err != nil {
			return err
		}

		err = func() error {
			if err := fs.Create(args[1], 0); err != nil {
				return err
			}

			f, err := fs.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			if n := f.Write(data); n != len(data) {
				return fmt.Errorf("short write: %d of %d bytes", n, len(data))
			}

			return nil
		}()

		if err != nil {
			unmount(fs, dev)
			return err
		}

		return unmount(fs, dev)
	},
}

var getCmd = &cobra.Command{
	Use:   "get image_path host_path",
	Short: "Copy a file out of the image",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage()
		if err != nil {
			return err
		}
		defer unmount(fs, dev)

		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		data := make([]byte, f.Length())
		data = data[:f.Read(data)]

		return os.WriteFile(args[1], data, 0644)
	},
}

var catCmd = &cobra.Command{
	Use:   "cat path",
	Short: "Print a file's contents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage()
		if err != nil {
			return err
		}
		defer unmount(fs, dev)

		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		data := make([]byte, f.Length())
		os.Stdout.Write(data[:f.Read(data)])
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm path",
	Short: "Remove a file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage()
		if err != nil {
			return err
		}

		if err := fs.Remove(args[0]); err != nil {
			unmount(fs, dev)
			return err
		}

		return unmount(fs, dev)
	},
}

var statCmd = &cobra.Command{
	Use:   "stat path",
	Short: "Describe a file, with cache traffic for the operation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, dev, err := mountImage()
		if err != nil {
			return err
		}
		defer unmount(fs, dev)

		f, err := fs.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		fi := f.Stat()
		fmt.Printf("sector: %d\n", fi.Sector)
		fmt.Printf("length: %d\n", fi.Length)
		fmt.Printf("dir:    %v\n", fi.IsDir)

		stats := fs.CacheStats()
		fmt.Printf("cache:  %d hits, %d misses, %d evictions\n",
			stats.Hits, stats.Misses, stats.Evictions)
		return nil
	},
}
