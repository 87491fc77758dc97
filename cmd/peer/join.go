package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"collab-sync/backend/internal/client"
	"collab-sync/backend/internal/platform/logging"
	"collab-sync/backend/internal/protocol"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a session and edit it from stdin",
	RunE:  runJoin,
}

func init() {
	joinCmd.Flags().String("server", "ws://localhost:8080/ws", "gateway WebSocket URL")
	joinCmd.Flags().String("token", "", "access token (defaults to $PEER_TOKEN)")
	joinCmd.Flags().String("session", "", "session id to join")
	joinCmd.Flags().String("log-level", "warn", "log level for connection diagnostics")
	_ = joinCmd.MarkFlagRequired("session")
}

func runJoin(cmd *cobra.Command, _ []string) error {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	sessionID, _ := cmd.Flags().GetString("session")
	level, _ := cmd.Flags().GetString("log-level")
	if token == "" {
		token = os.Getenv("PEER_TOKEN")
	}
	if token == "" {
		return errors.New("a token is required: pass --token or set PEER_TOKEN")
	}
	userID, err := tokenSubject(token)
	if err != nil {
		return err
	}
	logger, err := logging.New(true, level)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	out := cmd.OutOrStdout()
	buf := client.NewBuffer("")
	conn := client.NewConn(client.ConnOptions{
		URL:       server,
		Token:     token,
		SessionID: sessionID,
		Logger:    logger.Named("conn"),
		OnState: func(s client.State) {
			fmt.Fprintf(out, "* %s\n", s)
		},
		OnEvent: func(m protocol.Message) { printEvent(out, m) },
	})
	engine := client.NewEngine(buf, conn, client.EngineOptions{
		UserID:      userID,
		SessionID:   sessionID,
		BatchWindow: client.DefaultBatchWindow,
		Logger:      logger.Named("engine"),
	})
	engine.OnError(func(err error) { fmt.Fprintf(out, "! %v\n", err) })
	buf.OnChange(engine.LocalEdit)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- conn.Run(ctx, engine) }()

	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines)
	fmt.Fprintln(out, usage)

	for {
		select {
		case err := <-runErr:
			return err
		case line, ok := <-lines:
			if !ok {
				cancel()
				return <-runErr
			}
			c, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(out, "! %v\n", err)
				continue
			}
			if c.name == "quit" {
				cancel()
				return <-runErr
			}
			if err := execute(ctx, c, conn, engine, buf, sessionID, out); err != nil {
				fmt.Fprintf(out, "! %v\n", err)
			}
		}
	}
}

func execute(ctx context.Context, c command, conn *client.Conn, engine *client.Engine, buf *client.Buffer, sessionID string, out io.Writer) error {
	switch c.name {
	case "insert", "delete":
		return buf.Edit(c.ops)
	case "cursor":
		_, err := conn.Send(ctx, protocol.TypeUpdateCursor, protocol.UpdateCursor{SessionID: sessionID, Position: c.pos})
		if client.IsTransient(err) {
			return fmt.Errorf("not connected, cursor not sent")
		}
		return err
	case "resync":
		return engine.Resync(ctx)
	case "show":
		show(out, buf.Text(), engine)
	case "help":
		fmt.Fprintln(out, usage)
	}
	return nil
}

func show(out io.Writer, text string, engine *client.Engine) {
	fmt.Fprintf(out, "--- version %d\n", engine.Version())
	for i, line := range strings.Split(text, "\n") {
		fmt.Fprintf(out, "%4d | %s\n", i+1, line)
	}
	for _, c := range engine.Cursors() {
		fmt.Fprintf(out, "    %s %s at %d:%d\n", c.Color, c.Name, c.Position.Line, c.Position.Column)
	}
}

func printEvent(out io.Writer, m protocol.Message) {
	switch m.Type {
	case protocol.TypeSessionJoined:
		fmt.Fprintln(out, "* joined; type show to see the document")
	case protocol.TypeParticipantJoined:
		var e protocol.ParticipantJoined
		if json.Unmarshal(m.Data, &e) == nil {
			fmt.Fprintf(out, "+ %s %s joined\n", e.User.FirstName, e.User.LastName)
		}
	case protocol.TypeParticipantLeft:
		var e protocol.ParticipantLeft
		if json.Unmarshal(m.Data, &e) == nil {
			fmt.Fprintf(out, "- %s %s left\n", e.FirstName, e.LastName)
		}
	case protocol.TypeCursorUpdated:
		var e protocol.CursorUpdated
		if json.Unmarshal(m.Data, &e) == nil {
			fmt.Fprintf(out, "> %s at %d:%d\n", e.Name, e.Position.Line, e.Position.Column)
		}
	case protocol.TypeDocumentEdited:
		var e protocol.DocumentEdited
		if json.Unmarshal(m.Data, &e) == nil {
			fmt.Fprintf(out, "~ %s edited (v%d, %d ops)\n", e.Name, e.Version, len(e.Operations))
		}
	case protocol.TypeDocumentReplaced:
		var e protocol.DocumentReplaced
		if json.Unmarshal(m.Data, &e) == nil {
			fmt.Fprintf(out, "~ %s replaced the document (v%d)\n", e.Name, e.Version)
		}
	case protocol.TypeSessionEnded:
		fmt.Fprintln(out, "* the session has ended")
	}
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines <- sc.Text()
	}
}

// tokenSubject reads the sub claim without verifying the signature; the gateway verifies it. The
// engine needs the id to recognise its own edits when they are echoed back.
func tokenSubject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}
