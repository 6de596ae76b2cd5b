// Package main provides the entry point for the pagediff command.
package main

import (
	"fmt"
	"log"
	"os"

	"pagediff/internal/version"

	"github.com/urfave/cli/v2"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	app := &cli.App{
		Name:    "pagediff",
		Usage:   "match the pages of two document versions and locate what changed",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", EnvVars: []string{"PAGEDIFF_CONFIG"}},
			&cli.StringFlag{Name: "store", Usage: "blob store backend (memory, dir, sqlite)"},
			&cli.StringFlag{Name: "store-path", Usage: "directory or database file of the store"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent pairs (0 sizes from CPU and memory)"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose per-stage output"},
		},
		Commands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "detect keypoints on a page and write the descriptor blob",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output file (default stdout)"},
				},
				Action: ExtractAction,
			},
			{
				Name:      "score",
				Usage:     "print the page similarity matrix of a job file as CSV",
				ArgsUsage: "<job.pdjob>",
				Action:    ScoreAction,
			},
			{
				Name:      "resolve",
				Usage:     "print the page mapping of a job file",
				ArgsUsage: "<job.pdjob>",
				Action:    ResolveAction,
			},
			{
				Name:      "diff",
				Usage:     "align two pages and print the changed regions",
				ArgsUsage: "<before> <after>",
				Flags: append(paramFlags(),
					&cli.StringFlag{Name: "before-desc", Usage: "descriptor blob of the before page"},
					&cli.StringFlag{Name: "after-desc", Usage: "descriptor blob of the after page"},
					&cli.StringFlag{Name: "mask", Usage: "write the binary diff mask PNG"},
					&cli.StringFlag{Name: "warped", Usage: "write the warped after page PNG"},
				),
				Action: DiffAction,
			},
			{
				Name:      "run",
				Usage:     "run a whole job file through the pipeline",
				ArgsUsage: "<job.pdjob>",
				Flags: append(paramFlags(),
					&cli.BoolFlag{Name: "dev", Usage: "store diff masks and processing images"},
					&cli.BoolFlag{Name: "annotate", Usage: "read region text with Tesseract"},
					&cli.BoolFlag{Name: "write-matrix", Usage: "store the similarity matrix CSV"},
					&cli.StringFlag{Name: "worker-url", Usage: "send pairs to a remote worker"},
				),
				Action: RunAction,
			},
			{
				Name:  "serve",
				Usage: "serve pair and job requests over HTTP",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "listen", Usage: "listen address"},
					&cli.BoolFlag{Name: "annotate", Usage: "read region text with Tesseract"},
				},
				Action: ServeAction,
			},
			{
				Name:  "version",
				Usage: "print build information",
				Action: func(c *cli.Context) error {
					fmt.Println(version.String())
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func paramFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Float64Flag{Name: "match-threshold", Usage: "ratio test threshold in (0, 1]"},
		&cli.IntFlag{Name: "diff-threshold", Usage: "pixel difference threshold in [0, 255]"},
		&cli.Float64Flag{Name: "eps", Usage: "clustering radius in pixels"},
		&cli.IntFlag{Name: "min-samples", Usage: "neighbours needed for a core pixel"},
		&cli.Int64Flag{Name: "seed", Usage: "RANSAC seed"},
	}
}
