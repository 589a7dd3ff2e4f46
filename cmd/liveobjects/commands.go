package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drpcorg/liveobjects"
	"github.com/drpcorg/liveobjects/op"
	"github.com/drpcorg/liveobjects/wire"
)

const help = `open [dir]              start an engine, persisted in dir if given
close                   stop the engine
attach [empty]          channel attached, with or without objects
feed <file>             handle a recorded message log, one JSON message per line
msg <json>              handle one message
root | get <id>         show an object
set <map> <key> <json>  publish a MAP_SET; json is a literal or {"objectId":...}
remove <map> <key>      publish a MAP_REMOVE
inc <counter> <amount>  publish a COUNTER_INC
newmap [json object]    create a map and wait for it
newcounter [count]      create a counter and wait for it
dump [id]               show all objects, or one in detail
digest                  pool fingerprint
metrics                 engine metrics
exit | quit`

const writeTimeout = 5 * time.Second

var HelpSet = errors.New(`set map:abc@1 key "value"`)
var HelpInc = errors.New("inc counter:abc@1 5")

func (repl *REPL) CommandOpen(arg string) error {
	if err := repl.openEngine(arg); err != nil {
		return err
	}
	repl.objs.SetChannelState(liveobjects.ChannelAttaching)
	if arg == "" {
		fmt.Println("engine opened")
	} else {
		fmt.Printf("engine opened at %s\n", arg)
	}
	return nil
}

func (repl *REPL) CommandClose(arg string) error {
	if err := repl.closeEngine(); err != nil {
		return err
	}
	fmt.Println("engine closed")
	return nil
}

func (repl *REPL) CommandAttach(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	return repl.objs.OnAttached(arg != "empty")
}

func (repl *REPL) CommandFeed(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	file, err := os.Open(arg)
	if err != nil {
		return err
	}
	defer file.Close()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<24)
	handled, failed, n := 0, 0, 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := repl.objs.HandleMessage([]byte(line)); err != nil {
			failed++
			_, _ = fmt.Fprintf(os.Stderr, "%s:%d: %s\n", arg, n, err.Error())
			continue
		}
		handled++
	}
	fmt.Printf("%d messages handled, %d failed\n", handled, failed)
	return scanner.Err()
}

func (repl *REPL) CommandMsg(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	return repl.objs.HandleMessage([]byte(arg))
}

func (repl *REPL) CommandGet(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	obj, ok := repl.objs.Get(op.ObjectID(arg))
	if !ok {
		return fmt.Errorf("no object %q", arg)
	}
	switch o := obj.(type) {
	case *liveobjects.LiveMap:
		for _, key := range o.Keys() {
			v, _ := o.Get(key)
			fmt.Printf("%s\t%s\n", key, v.String())
		}
	case *liveobjects.LiveCounter:
		fmt.Println(strconv.FormatFloat(o.Value(), 'g', -1, 64))
	}
	if obj.Tombstoned() {
		fmt.Println("(deleted)")
	} else if !obj.Created() {
		fmt.Println("(not created yet)")
	}
	return nil
}

// parseValue reads a JSON literal, or a tagged wire payload.
func parseValue(text string) (op.Value, error) {
	if strings.HasPrefix(text, "{") {
		var data wire.ObjectData
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return op.Value{}, err
		}
		return wire.DecodeValue(&data)
	}
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return op.Value{}, err
	}
	switch t := parsed.(type) {
	case string:
		return op.String(t), nil
	case float64:
		return op.Number(t), nil
	case bool:
		return op.Bool(t), nil
	}
	return op.Value{}, fmt.Errorf("unsupported value %s", text)
}

func (repl *REPL) CommandSet(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	fields := strings.SplitN(arg, " ", 3)
	if len(fields) != 3 {
		return HelpSet
	}
	m, err := repl.objs.GetMap(op.ObjectID(fields[0]))
	if err != nil {
		return err
	}
	value, err := parseValue(strings.TrimSpace(fields[2]))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return m.Set(ctx, fields[1], value)
}

func (repl *REPL) CommandRemove(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return errors.New("remove map:abc@1 key")
	}
	m, err := repl.objs.GetMap(op.ObjectID(fields[0]))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return m.Remove(ctx, fields[1])
}

func (repl *REPL) CommandInc(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return HelpInc
	}
	c, err := repl.objs.GetCounter(op.ObjectID(fields[0]))
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return HelpInc
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.Increment(ctx, amount)
}

func (repl *REPL) CommandNewMap(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	entries := make(map[string]op.Value)
	if arg != "" {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(arg), &raw); err != nil {
			return err
		}
		for key, text := range raw {
			value, err := parseValue(string(text))
			if err != nil {
				return err
			}
			entries[key] = value
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	m, err := repl.objs.CreateMap(ctx, entries)
	if err != nil {
		return err
	}
	fmt.Println(m.ID())
	return nil
}

func (repl *REPL) CommandNewCounter(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	count := 0.0
	if arg != "" {
		var err error
		if count, err = strconv.ParseFloat(arg, 64); err != nil {
			return err
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	c, err := repl.objs.CreateCounter(ctx, count)
	if err != nil {
		return err
	}
	fmt.Println(c.ID())
	return nil
}

func (repl *REPL) CommandDump(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	if arg == "" {
		repl.objs.DumpAll(os.Stdout)
		return nil
	}
	fmt.Println(repl.objs.Dump(op.ObjectID(arg)))
	return nil
}

func (repl *REPL) CommandDigest(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	fmt.Printf("%016x\n", repl.objs.Digest())
	return nil
}

func (repl *REPL) CommandMetrics(arg string) error {
	if repl.objs == nil {
		return ErrNotOpen
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(repl.objs.Collectors()...)
	if repl.store != nil {
		reg.MustRegister(repl.store.Collector())
	}
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			var value float64
			switch {
			case m.GetCounter() != nil:
				value = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				value = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				value = float64(m.GetHistogram().GetSampleCount())
			}
			fmt.Printf("%s{%s}\t%g\n", mf.GetName(), strings.Join(labels, ","), value)
		}
	}
	return nil
}
