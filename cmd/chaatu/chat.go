package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"github.com/zulandar/chaatu/internal/session"
	"github.com/zulandar/chaatu/internal/store"
	"golang.org/x/term"
)

const replHelp = `Commands:
  /new                 start a new conversation
  /chats               list conversations
  /load <id>           open a conversation
  /delete <id>         delete a conversation
  /model <name>        select a model
  /custom <name> [key] use a custom model endpoint
  /temp <0-2>          set the temperature
  /web                 toggle web search
  /upload <path>       attach a document to this conversation
  /settings            show current settings
  /quit                exit
Anything else is sent as a message.`

func newChatCmd() *cobra.Command {
	var (
		configPath string
		chatID     string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long:  "Reads messages from stdin and streams the assistant's replies. Lines starting with / are commands; /help lists them.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !verbose {
				log.SetOutput(io.Discard)
				defer log.SetOutput(os.Stderr)
			}
			return runChat(cmd, configPath, chatID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to chaatu config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "conversation ID to resume")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log connection and session events to stderr")
	return cmd
}

// repl is one interactive session bound to a controller.
type repl struct {
	ctrl    *session.Controller
	out     io.Writer
	render  *renderer
	changed chan struct{}
	prompt  bool
}

func runChat(cmd *cobra.Command, configPath, chatID string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	nav := session.NavigatorFunc(func(id string) {
		if id != "" {
			fmt.Fprintf(out, "(conversation %s)\n", id)
		}
	})
	ctrl, release, err := newSession(cfg, nav)
	if err != nil {
		return err
	}
	defer release()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	r := &repl{
		ctrl:    ctrl,
		out:     out,
		render:  newRenderer(out),
		changed: make(chan struct{}, 1),
		prompt:  isTerminal(cmd.InOrStdin()),
	}
	unsub := ctrl.Store().Subscribe(func(store.State) {
		select {
		case r.changed <- struct{}{}:
		default:
		}
	})
	defer unsub()

	if chatID != "" {
		if err := r.load(ctx, chatID); err != nil {
			return err
		}
	}
	if r.prompt {
		fmt.Fprintln(out, "Type a message, or /help for commands.")
	}
	return r.run(ctx, cmd.InOrStdin())
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		if r.prompt {
			fmt.Fprint(r.out, "you> ")
		}
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var err error
		if strings.HasPrefix(line, "/") {
			var quit bool
			quit, err = r.command(ctx, line)
			if quit {
				return nil
			}
		} else {
			err = r.send(ctx, line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
	}
}

func (r *repl) send(ctx context.Context, text string) error {
	r.render.skip(r.ctrl.Store().State())
	if err := r.ctrl.Send(ctx, text, nil); err != nil {
		return err
	}
	return r.wait(ctx)
}

// wait renders streamed output until no reply is in flight.
func (r *repl) wait(ctx context.Context) error {
	for {
		s := r.ctrl.Store().State()
		if !r.render.draw(s) && !s.IsStreaming {
			return nil
		}
		select {
		case <-r.changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *repl) load(ctx context.Context, chatID string) error {
	if err := r.ctrl.LoadConversation(ctx, chatID); err != nil {
		return err
	}
	s := r.ctrl.Store().State()
	for _, m := range s.Messages {
		fmt.Fprintf(r.out, "%s> %s\n", m.Role, m.Content)
	}
	r.render.skip(s)
	return nil
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/new":
		r.ctrl.NewChat()
		fmt.Fprintln(r.out, "Started a new conversation.")
	case "/chats":
		chats, err := r.ctrl.RefreshChats(ctx)
		if err != nil {
			return false, err
		}
		if len(chats) == 0 {
			fmt.Fprintln(r.out, "No conversations.")
			return false, nil
		}
		current := r.ctrl.Store().State().CurrentChatID
		for _, c := range chats {
			marker := " "
			if c.ID == current {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %s  %s\n", marker, c.ID, truncate(c.Title, 48))
		}
	case "/load":
		if len(args) != 1 {
			return false, errors.New("usage: /load <id>")
		}
		return false, r.load(ctx, args[0])
	case "/delete":
		if len(args) != 1 {
			return false, errors.New("usage: /delete <id>")
		}
		if err := r.ctrl.DeleteChat(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Deleted chat %s\n", args[0])
	case "/model":
		if len(args) != 1 {
			return false, errors.New("usage: /model <name>")
		}
		r.ctrl.SetModel(args[0])
		fmt.Fprintf(r.out, "Model: %s\n", args[0])
	case "/custom":
		if len(args) < 1 || len(args) > 2 {
			return false, errors.New("usage: /custom <name> [api-key]")
		}
		var key string
		if len(args) == 2 {
			key = args[1]
		}
		if err := r.ctrl.SetCustomModel(args[0], key); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Model: %s (custom)\n", args[0])
	case "/temp":
		if len(args) != 1 {
			return false, errors.New("usage: /temp <0-2>")
		}
		t, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return false, fmt.Errorf("invalid temperature %q", args[0])
		}
		if err := r.ctrl.SetTemperature(t); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Temperature: %.2f\n", t)
	case "/web":
		if r.ctrl.ToggleWebSearch() {
			fmt.Fprintln(r.out, "Web search: on")
		} else {
			fmt.Fprintln(r.out, "Web search: off")
		}
	case "/upload":
		if len(args) != 1 {
			return false, errors.New("usage: /upload <path>")
		}
		return false, r.upload(ctx, args[0])
	case "/settings":
		s := r.ctrl.Store().State()
		web := "off"
		if s.WebSearch {
			web = "on"
		}
		fmt.Fprintf(r.out, "Model: %s  Temperature: %.2f  Web search: %s\n", s.EffectiveModel(), s.Temperature, web)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) upload(ctx context.Context, path string) error {
	var mu sync.Mutex
	last := -1
	unsub := r.ctrl.Store().Subscribe(func(s store.State) {
		mu.Lock()
		defer mu.Unlock()
		if s.UploadProgress != nil && *s.UploadProgress > last {
			last = *s.UploadProgress
			fmt.Fprintf(r.out, "\r%s", progressBar(last))
		}
	})
	doc, err := r.ctrl.Upload(ctx, path)
	unsub()
	mu.Lock()
	defer mu.Unlock()
	if last >= 0 {
		fmt.Fprintln(r.out)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Uploaded %s (%s bytes)\n", doc.Filename, formatCount(doc.Size))
	return nil
}

// renderer prints assistant replies incrementally. It is only used from the
// REPL goroutine.
type renderer struct {
	out     io.Writer
	printed map[string]int
	done    map[string]bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{out: out, printed: make(map[string]int), done: make(map[string]bool)}
}

// skip marks every message in s as already shown.
func (r *renderer) skip(s store.State) {
	for _, m := range s.Messages {
		r.done[m.ID] = true
	}
}

// draw prints new assistant output in s and reports whether any reply is
// still in flight.
func (r *renderer) draw(s store.State) (inFlight bool) {
	for _, m := range s.Messages {
		if m.Role != store.RoleAssistant || r.done[m.ID] {
			continue
		}
		n, started := r.printed[m.ID]
		if !started {
			fmt.Fprint(r.out, "assistant> ")
			r.printed[m.ID] = 0
		}
		if len(m.Content) > n {
			fmt.Fprint(r.out, m.Content[n:])
			r.printed[m.ID] = len(m.Content)
		}

		switch m.Status {
		case store.StatusComplete:
			fmt.Fprintln(r.out)
			for i, src := range m.Sources {
				fmt.Fprintf(r.out, "  [%d] %s <%s>\n", i+1, src.Title, src.URL)
			}
			r.done[m.ID] = true
		case store.StatusError:
			fmt.Fprintln(r.out, "\n[response failed]")
			r.done[m.ID] = true
		default:
			inFlight = true
		}
	}
	return inFlight
}
