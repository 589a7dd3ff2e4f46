package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ergochat/readline"

	"github.com/drpcorg/liveobjects"
	"github.com/drpcorg/liveobjects/store"
	"github.com/drpcorg/liveobjects/utils"
	"github.com/drpcorg/liveobjects/wire"
)

// REPL per se.
type REPL struct {
	objs  *liveobjects.Objects
	store *store.Store
	loop  *wire.Loopback
	rl    *readline.Instance
	log   *utils.DefaultLogger
}

var ErrNotOpen = errors.New("no engine open, use `open`")

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),

	readline.PcItem("open"),
	readline.PcItem("close"),
	readline.PcItem("attach"),
	readline.PcItem("feed"),
	readline.PcItem("msg"),

	readline.PcItem("root"),
	readline.PcItem("get"),
	readline.PcItem("set"),
	readline.PcItem("remove"),
	readline.PcItem("inc"),
	readline.PcItem("newmap"),
	readline.PcItem("newcounter"),

	readline.PcItem("dump"),
	readline.PcItem("digest"),
	readline.PcItem("metrics"),

	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

func (repl *REPL) Open() (err error) {
	repl.log = utils.NewLogger(os.Stderr, slog.LevelInfo)
	repl.rl, err = readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     ".liveobjects_cmd_log.txt",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		return
	}
	repl.rl.CaptureExitSignal()
	return
}

func (repl *REPL) Close() error {
	_ = repl.closeEngine()
	if repl.rl != nil {
		_ = repl.rl.Close()
		repl.rl = nil
	}
	return nil
}

// openEngine starts an engine, persisted in dir unless dir is empty.
func (repl *REPL) openEngine(dir string) (err error) {
	if repl.objs != nil {
		return errors.New("engine already open, `close` it first")
	}
	repl.loop = wire.NewLoopback("repl", func(msg *wire.ObjectMessage) error {
		return repl.objs.HandleObjectMessage(msg)
	})
	where := dir
	if where == "" {
		where = "memory"
	}
	opts := liveobjects.Options{
		Logger:    repl.log.With("engine", where),
		Publisher: repl.loop,
	}
	if dir != "" {
		if repl.store, err = store.Open(dir, store.Options{Sync: true}); err != nil {
			return err
		}
		opts.Store = repl.store
	}
	repl.objs, err = liveobjects.Open(opts)
	if err != nil && repl.store != nil {
		_ = repl.store.Close()
		repl.store = nil
	}
	return err
}

func (repl *REPL) closeEngine() (err error) {
	if repl.objs == nil {
		return ErrNotOpen
	}
	err = repl.objs.Close()
	repl.objs = nil
	if repl.store != nil {
		err = errors.Join(err, repl.store.Close())
		repl.store = nil
	}
	return err
}

func (repl *REPL) REPL() (err error) {
	var line string
	line, err = repl.rl.Readline()
	if err == readline.ErrInterrupt && len(line) != 0 {
		return nil
	}
	if err != nil {
		return err
	}

	line = strings.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "help":
		fmt.Println(help)
	case "open":
		err = repl.CommandOpen(arg)
	case "close":
		err = repl.CommandClose(arg)
	case "exit", "quit":
		if repl.objs != nil {
			err = repl.CommandClose(arg)
		}
		if err == nil {
			err = io.EOF
		}
	// ----- inbound messages -----
	case "attach":
		err = repl.CommandAttach(arg)
	case "feed":
		err = repl.CommandFeed(arg)
	case "msg":
		err = repl.CommandMsg(arg)
	// ----- objects -----
	case "root":
		err = repl.CommandGet("root")
	case "get", "cat":
		err = repl.CommandGet(arg)
	case "set":
		err = repl.CommandSet(arg)
	case "remove", "rm":
		err = repl.CommandRemove(arg)
	case "inc":
		err = repl.CommandInc(arg)
	case "newmap":
		err = repl.CommandNewMap(arg)
	case "newcounter":
		err = repl.CommandNewCounter(arg)
	// ----- debug -----
	case "dump":
		err = repl.CommandDump(arg)
	case "digest":
		err = repl.CommandDigest(arg)
	case "metrics":
		err = repl.CommandMetrics(arg)
	default:
		_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
	}
	return
}

func main() {
	repl := REPL{}

	if err := repl.Open(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}
	var err error
	if len(os.Args) > 1 {
		err = repl.CommandOpen(os.Args[1])
	}
	for err != io.EOF {
		if err != nil {
			_, _ = fmt.Fprintf(os.Stdout, "%s\n", err.Error())
		}
		err = repl.REPL()
	}
	_ = repl.Close()
}
