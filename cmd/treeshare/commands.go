package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AtharvRG/fractal/internal/auth"
	"github.com/AtharvRG/fractal/internal/dispatch"
	"github.com/AtharvRG/fractal/internal/linkcache"
	"github.com/AtharvRG/fractal/internal/paste"
	"github.com/AtharvRG/fractal/internal/router"
	"github.com/AtharvRG/fractal/internal/share"
)

func encodeCmd() *cobra.Command {
	var (
		shorten  bool
		ttl      time.Duration
		publish  string
		excludes []string
		baseURL  string
	)

	cmd := &cobra.Command{
		Use:   "encode <dir>",
		Short: "Encode a directory into a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			t, err := readTree(args[0], excludes)
			if err != nil {
				return err
			}

			store, kind, err := pasteTarget(publish)
			if err != nil {
				return err
			}
			encoder := share.NewEncoder(newNegotiator(),
				share.WithChunkSize(cfg.ChunkSize),
				share.WithThresholds(cfg.Thresholds()))
			sharer := share.NewSharer(encoder, store, kind)

			var link *share.Link
			if publish != "" {
				link, err = sharer.Publish(ctx, t)
			} else {
				link, err = sharer.Share(ctx, t)
			}
			if err != nil {
				return err
			}

			if shorten && link.Decision == router.Embed {
				if err := shortenLink(ctx, link, ttl); err != nil {
					return err
				}
			}

			if baseURL == "" {
				baseURL = cfg.BaseURL
			}
			fmt.Fprintln(cmd.ErrOrStderr(), describeLink(link))
			fmt.Fprintln(cmd.OutOrStdout(), link.URL(baseURL))
			return nil
		},
	}

	cmd.Flags().BoolVar(&shorten, "shorten", false, "store the payload on the share server and print a short link")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "short link lifetime (0 uses the server default)")
	cmd.Flags().StringVar(&publish, "publish", "", "always publish to a paste store: gist or paste")
	cmd.Flags().StringSliceVar(&excludes, "exclude", defaultExcludes, "file or directory names to skip")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "link base URL (default from TREESHARE_BASE_URL)")
	return cmd
}

// pasteTarget picks the store for oversize trees. An explicit choice must
// be usable; otherwise the first configured store wins.
func pasteTarget(choice string) (paste.Store, share.Kind, error) {
	switch choice {
	case "gist":
		if cfg.GitHubToken == "" {
			return nil, 0, fmt.Errorf("publishing to a gist needs GITHUB_TOKEN")
		}
		return paste.NewGistStore(cfg.GitHubToken), share.KindGist, nil
	case "paste":
		c, err := requireClient()
		if err != nil {
			return nil, 0, err
		}
		return c, share.KindPaste, nil
	case "":
		if cfg.GitHubToken != "" {
			return paste.NewGistStore(cfg.GitHubToken), share.KindGist, nil
		}
		if c := newClient(); c != nil {
			return c, share.KindPaste, nil
		}
		return nil, share.KindPaste, nil
	}
	return nil, 0, fmt.Errorf("unknown paste store %q, want gist or paste", choice)
}

func shortenLink(ctx context.Context, link *share.Link, ttl time.Duration) error {
	c, err := requireClient()
	if err != nil {
		return err
	}
	payload := strings.TrimPrefix(link.Fragment, share.KindPayload.Prefix())
	resp, err := c.CreateShortLink(ctx, payload, ttl)
	if err != nil {
		return err
	}
	link.Fragment = share.KindShortLink.Prefix() + resp.ID

	if cache := openCache(); cache != nil {
		defer cache.Close()
		var keep time.Duration
		if resp.ExpiresAt != nil {
			keep = time.Until(*resp.ExpiresAt)
		}
		cache.Put(linkcache.KindShortLink, resp.ID, payload, keep)
	}
	return nil
}

func describeLink(link *share.Link) string {
	if link.Decision == router.Redirect {
		return mutedStyle.Render(fmt.Sprintf("published: %s of text", formatSize(link.RawBytes)))
	}
	return mutedStyle.Render(fmt.Sprintf("%s of text, %s packed, %s, %d characters",
		formatSize(link.RawBytes), formatSize(int64(link.PackedBytes)), link.Algorithm, link.EncodedLength))
}

func decodeCmd() *cobra.Command {
	var (
		out   string
		quiet bool
	)

	cmd := &cobra.Command{
		Use:   "decode <link>",
		Short: "Open a link and show or write its tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []share.OpenerOption{
				share.WithResolveTimeout(cfg.ResolveTimeout),
				share.WithGistStore(paste.NewGistStore(cfg.GitHubToken)),
			}
			if c := newClient(); c != nil {
				opts = append(opts, share.WithResolver(c), share.WithPasteStore(c))
			}
			if cache := openCache(); cache != nil {
				defer cache.Close()
				opts = append(opts, share.WithCache(cache))
			}

			opener := share.NewOpener(dispatch.NewDispatcher(newNegotiator(), 0), opts...)
			opened, err := opener.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if !quiet {
				fmt.Fprintln(w, panelStyle.Render(headerStyle.Render(describeOpened(opened))+"\n\n"+renderTree(opened.Tree)))
			}
			if opened.Source != share.KindPayload && opened.Canonical != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("canonical link: "+strings.TrimRight(cfg.BaseURL, "/")+share.EditorPath+opened.Canonical))
			}

			if out == "" {
				return nil
			}
			st, err := writeTree(out, opened.Tree)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "wrote %d files and %d directories to %s\n", st.Files, st.Dirs, out)
			if st.Skipped > 0 {
				fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("%d binary files have no content in the link and were skipped", st.Skipped)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "write the tree into this directory")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print the tree")
	return cmd
}

func describeOpened(o *share.Opened) string {
	var parts []string
	parts = append(parts, o.Source.String())
	if o.Format != dispatch.FormatUnknown {
		parts = append(parts, o.Format.String())
	}
	if len(o.Repairs) > 0 {
		parts = append(parts, "repaired: "+strings.Join(o.Repairs, ", "))
	}
	if o.FromCache {
		parts = append(parts, "from local cache")
	}
	return strings.Join(parts, " · ")
}

func shortenCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "shorten <link>",
		Short: "Turn a #h: link into a short link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := share.ParseLink(args[0])
			if err != nil {
				return err
			}
			if f.Kind != share.KindPayload {
				return fmt.Errorf("only #h: links can be shortened, got %s", f.Kind)
			}
			link := &share.Link{Decision: router.Embed, Fragment: f.String()}
			if err := shortenLink(cmd.Context(), link, ttl); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), link.URL(cfg.BaseURL))
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "short link lifetime (0 uses the server default)")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|link>",
		Short: "Delete a short link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if f, err := share.ParseLink(id); err == nil && f.Kind == share.KindShortLink {
				id = f.Value
			}
			c, err := requireClient()
			if err != nil {
				return err
			}
			if err := c.DeleteShortLink(cmd.Context(), id); err != nil {
				return err
			}
			if cache := openCache(); cache != nil {
				defer cache.Close()
				cache.Delete(linkcache.KindShortLink, id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		secret  string
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a service token for the share server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = os.Getenv("SERVICE_TOKEN_SECRET")
			}
			tok, err := auth.NewTokenService(secret).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "signing secret (default from SERVICE_TOKEN_SECRET)")
	cmd.Flags().StringVar(&subject, "subject", "treeshare-cli", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the local link cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List cached short links and shares",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := openCache()
			if cache == nil {
				return fmt.Errorf("link cache is disabled or unavailable")
			}
			defer cache.Close()

			w := cmd.OutOrStdout()
			for _, kind := range []linkcache.Kind{linkcache.KindShortLink, linkcache.KindEphemeral} {
				entries, err := cache.List(kind)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(w, "#%s:%s\t%s\n", e.Kind, e.ID, mutedStyle.Render(formatSize(int64(e.Size))))
				}
			}
			return nil
		},
	})
	return cmd
}
