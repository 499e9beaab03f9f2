// Package client wires the pieces of the editor client together: the HTTP
// API client, the gateway sync connection, the local fallback store, and
// the save/load controller, plus a small line-oriented shell driving them.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/drawbridge-dev/drawbridge/internal/client/api"
	"github.com/drawbridge-dev/drawbridge/internal/client/config"
	"github.com/drawbridge-dev/drawbridge/internal/client/controller"
	clientsync "github.com/drawbridge-dev/drawbridge/internal/client/sync"
	"github.com/drawbridge-dev/drawbridge/internal/common"
	"github.com/drawbridge-dev/drawbridge/internal/logging"
	"github.com/drawbridge-dev/drawbridge/internal/storage"
)

// App is the client application.
type App struct {
	config *config.Config
	logger logging.Logger
	out    io.Writer
}

// NewApp creates the client application from its configuration.
func NewApp(cfg *config.Config) *App {
	logger := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return &App{config: cfg, logger: logger, out: os.Stdout}
}

// Run connects to the server, restores the most recent document (or the one
// named by the arguments), and serves the interactive shell until EOF or
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	localDB, local, err := storage.OpenLocal(ctx, a.config.LocalPath)
	if err != nil {
		return fmt.Errorf("local fallback store: %w", err)
	}
	defer localDB.Close()

	apiClient, err := api.New(a.config.ServerEndpointAddr)
	if err != nil {
		return err
	}

	var gw *clientsync.Client
	opts := controller.Options{
		API:    apiClient,
		Local:  local,
		Logger: a.logger,
		Settings: controller.Settings{
			AutoReload: a.config.AutoReload,
			Debounce:   a.config.Debounce,
		},
		OnRemoteChange: func(documentID string) {
			fmt.Fprintf(a.out, "\ndocument %s was changed by another client; type 'reload' to fetch it\n> ", documentID)
		},
	}

	ctrl, err := controller.New(opts)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	gw, err = clientsync.Dial(ctx, a.config.GatewayAddr, func(ev clientsync.ChangeEvent) {
		ctrl.HandleRemoteChange(ctx, ev.DocumentID, ev.UpdatedBy)
	}, a.logger)
	if err != nil {
		// Collaboration is best-effort: saves and loads still work without
		// the gateway, there are just no live notifications.
		a.logger.Warn(ctx, "sync gateway unavailable", "err", err)
	} else {
		defer gw.Close()
		ctrl.AttachGateway(gw)
	}

	if err := ctrl.CheckRemote(ctx); err != nil {
		a.logger.Warn(ctx, "server unreachable, working locally", "err", err)
	}

	doc, err := ctrl.Load(ctx, controller.LoadHints{DocumentID: flagArg()})
	if err != nil {
		return err
	}
	if doc == nil {
		fmt.Fprintln(a.out, "no saved documents; starting a new one")
		ctrl.NewDocument("Untitled", "", "")
	} else {
		fmt.Fprintf(a.out, "opened %q (%s)\n", doc.Title, doc.ID)
	}

	return a.shell(ctx, ctrl, apiClient)
}

// flagArg returns the first non-flag command-line argument, treated as a
// document id to open.
func flagArg() string {
	for i := 1; i < len(os.Args); i++ {
		arg := os.Args[i]
		if strings.HasPrefix(arg, "-") {
			if !strings.Contains(arg, "=") && i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				i++
			}
			continue
		}
		return arg
	}
	return ""
}

func (a *App) shell(ctx context.Context, ctrl *controller.Controller, apiClient *api.Client) error {
	fmt.Fprintln(a.out, "commands: list, open <id>, new <title>, title <text>, content <text>, save, reload, status, quit")

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Fprint(a.out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		cmd, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch cmd {
		case "":
		case "quit", "exit":
			return nil
		case "list":
			a.list(ctx, apiClient)
		case "open":
			if doc, err := ctrl.Load(ctx, controller.LoadHints{DocumentID: rest}); err != nil || doc == nil {
				fmt.Fprintf(a.out, "open failed: %v\n", err)
			} else {
				fmt.Fprintf(a.out, "opened %q (%s)\n", doc.Title, doc.ID)
			}
		case "new":
			title := rest
			if title == "" {
				title = "Untitled"
			}
			ctrl.NewDocument(title, "", "")
			fmt.Fprintf(a.out, "new document %q\n", title)
		case "title":
			doc := ctrl.Document()
			ctrl.SetContent(rest, doc.EngineTag, doc.Content)
		case "content":
			doc := ctrl.Document()
			ctrl.SetContent(doc.Title, doc.EngineTag, rest)
		case "save":
			doc := ctrl.Document()
			ctrl.SetContent(doc.Title, doc.EngineTag, doc.Content)
			if err := ctrl.Save(ctx); err != nil {
				fmt.Fprintf(a.out, "save failed: %v\n", err)
			} else {
				fmt.Fprintf(a.out, "state: %s, identity: %s\n", ctrl.State(), ctrl.Identity())
			}
		case "reload":
			if err := ctrl.Reload(ctx); err != nil {
				fmt.Fprintf(a.out, "reload failed: %v\n", err)
			}
		case "status":
			doc := ctrl.Document()
			fmt.Fprintf(a.out, "state: %s, identity: %s, localOnly: %v, title: %q\n",
				ctrl.State(), ctrl.Identity(), ctrl.LocalOnly(), doc.Title)
		default:
			fmt.Fprintf(a.out, "unknown command %q\n", cmd)
		}
		fmt.Fprint(a.out, "> ")
	}
	return scanner.Err()
}

func (a *App) list(ctx context.Context, apiClient *api.Client) {
	summaries, err := apiClient.ListRecent(ctx, 20)
	if err != nil {
		if errors.Is(err, common.ErrUnreachable) {
			fmt.Fprintln(a.out, "server unreachable")
			return
		}
		fmt.Fprintf(a.out, "list failed: %v\n", err)
		return
	}
	for _, s := range summaries {
		fmt.Fprintf(a.out, "%s  %s  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.Title)
	}
}
