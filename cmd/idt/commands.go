package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"idt/internal/provider"
	"idt/internal/publish"
	"idt/internal/server"
	"idt/internal/workflow"
)

func newProvidersCmd(a *app) *cobra.Command {
	var only string
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List description providers, prompt styles and the models each provider offers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := provider.Names()
			if only != "" {
				names = []string{strings.ToLower(only)}
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PROVIDER\tDEFAULT MODEL\tMODELS")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, provider.DefaultModel(name), a.listModels(cmd.Context(), name))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			styles := provider.NewPrompts(a.cfg.Prompt.Custom).Styles()
			fmt.Fprintf(cmd.OutOrStdout(), "\nprompt styles: %s\n", strings.Join(styles, ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&only, "provider", "p", "", "only query this provider")
	return cmd
}

// listModels asks a provider for its models, reporting why when it cannot.
func (a *app) listModels(ctx context.Context, name string) string {
	p, err := a.newProvider(name, "")
	if err != nil {
		return "unavailable: " + err.Error()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	models, err := p.Models(ctx)
	if err != nil {
		a.logger.Debug("listing models failed", zap.String("provider", name), zap.Error(err))
		return "unreachable: " + err.Error()
	}
	if len(models) == 0 {
		return "-"
	}
	return strings.Join(models, ", ")
}

func newServeCmd(a *app) *cobra.Command {
	var root, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Browse run galleries and descriptions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				root = a.cfg.OutputDir
			}
			h := server.New(root, a.logger)
			srv := &http.Server{
				Addr:              addr,
				Handler:           h.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", zap.String("addr", addr), zap.String("root", root))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				a.logger.Info("shutting down server")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "directory holding run directories (default: configured output dir)")
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func newPublishCmd(a *app) *cobra.Command {
	var bucket, prefix, endpoint string
	cmd := &cobra.Command{
		Use:   "publish <run dir>",
		Short: "Upload a run's gallery and descriptions to S3-compatible storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.Publish
			if bucket != "" {
				cfg.Bucket = bucket
			}
			if prefix != "" {
				cfg.Prefix = prefix
			}
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			if _, err := workflow.LoadMetadata(args[0]); err != nil {
				return err
			}

			p, err := publish.New(publish.Config{
				Endpoint:  cfg.Endpoint,
				AccessKey: cfg.AccessKey,
				SecretKey: cfg.SecretKey,
				UseSSL:    cfg.UseSSL,
				Bucket:    cfg.Bucket,
				Prefix:    cfg.Prefix,
			}, a.logger)
			if err != nil {
				return err
			}
			res, err := p.Publish(cmd.Context(), args[0], "html_reports", "descriptions")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d objects to bucket %s\n", len(res.Objects), res.Bucket)
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "target bucket")
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "S3 endpoint, e.g. localhost:9000")
	return cmd
}

func newStatsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats <run dir>",
		Short: "Print the statistics recorded for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sum, err := workflow.LoadSummary(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(sum)
			}
			printSummary(cmd.OutOrStdout(), args[0], *sum)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw statistics record")
	return cmd
}
