package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Rogers-F/storyboard-engine/internal/ipc"
)

// bindGenerateFlags registers the brief flags shared by scenes and batch.
func bindGenerateFlags(fs *pflag.FlagSet, req *ipc.GenerateRequest) {
	fs.StringVar(&req.Brief, "brief", "", "creative brief")
	fs.IntVarP(&req.SceneCount, "count", "n", 4, "number of scenes")
	fs.Float64Var(&req.DurationSec, "duration", 10, "target duration in seconds")
	fs.StringVar(&req.Dialogue, "dialogue", "auto", "dialogue mode: auto|none")
	fs.StringVar(&req.SFX, "sfx", "auto", "sound effect mode: auto|none")
	fs.StringVar(&req.Voice, "voice", "auto", "voice-over mode: auto|none")
	fs.StringVar(&req.Output, "output", "json", "output shape: json|natural")
	fs.StringVar(&req.Template, "template", "detailed", "template strictness: detailed|simple")
	fs.StringVar(&req.Language, "language", "en", "output language: en|ja")
	fs.StringVar(&req.Style.Genre, "genre", "", "style genre")
	fs.StringVar(&req.Style.Mood, "mood", "", "style mood")
	fs.StringVar(&req.Style.Pace, "pace", "", "style pace: slow|medium|fast")
	fs.StringVar(&req.Style.Palette, "palette", "", "style colour palette")
}

func (a *app) scenesCmd() *cobra.Command {
	var req ipc.GenerateRequest
	cmd := &cobra.Command{
		Use:   "scenes",
		Short: "Generate one storyboard or template and print it as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ipc.Validate(a.limits(), req); err != nil {
				return printInputError(cmd, err)
			}
			gen, err := a.generator(cmd.Context())
			if err != nil {
				return err
			}
			resp, err := ipc.RunGenerate(cmd.Context(), gen, req)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	bindGenerateFlags(cmd.Flags(), &req)
	return cmd
}
