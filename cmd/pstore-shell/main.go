// Command pstore-shell is an interactive demo and manual-test harness for
// go-pstore: it opens a handle against an in-memory backend and lets the
// operator save/load/clear/get-size catalog items by name from a readline
// shell, in the spirit of the teacher pack's sloty REPL.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/behrlich/go-pstore"
	"github.com/behrlich/go-pstore/backend/memstorage"
	"github.com/behrlich/go-pstore/internal/catalog"
	"github.com/behrlich/go-pstore/memheap"
)

func main() {
	var (
		mappable    = flag.Bool("mappable", true, "back the large-heap allocator with mmap instead of temp files")
		enableTmpID = flag.Bool("enable-tmp-id", true, "advertise cancellable-update support on the storage backend")
	)
	flag.Parse()

	cat, err := catalog.LoadDefault()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pstore-shell: load catalog:", err)
		os.Exit(1)
	}

	store := memstorage.New(*enableTmpID)
	mode := memheap.Mappable
	if !*mappable {
		mode = memheap.NotMappable
	}
	heap := memheap.New(mode)

	cfg := pstore.DefaultConfig()
	cfg.Storage = store
	cfg.Heap = heap

	mgr, err := pstore.New(cfg, cat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pstore-shell: init:", err)
		os.Exit(1)
	}

	repl := &REPL{mgr: mgr, catalog: cat, owner: shellOwner{}, handle: pstore.InvalidHandle}
	if err := repl.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "pstore-shell:", err)
		os.Exit(1)
	}
}

// shellOwner is the reentrant-lock owner token for every call this single-
// threaded REPL issues.
type shellOwner struct{}

// REPL is the interactive command loop.
type REPL struct {
	mgr     *pstore.Manager
	catalog *catalog.Table
	owner   any
	handle  pstore.Handle
	liner   *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pstore_shell_history")
}

const help = `Commands:
  open                         open a handle
  close                        close the current handle
  save <item> <hex-bytes>      save raw bytes to a catalog item
  load <item>                  load and print a catalog item's bytes
  clear <item>                 erase a catalog item
  size <item>                  print an item's persisted size
  list                         list every catalog item name
  factory-reset                run invoke_factory_reset
  help                         show this text
  quit                         exit`

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("pstore-shell - parameter storage manager demo")
	fmt.Println("Type 'help' for available commands.")

	for {
		line, err := r.liner.Prompt("pstore> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if f, err := os.Create(historyFile()); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		if cmd == "quit" || cmd == "exit" {
			break
		}
		if err := r.dispatch(cmd, args); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
	return nil
}

func (r *REPL) dispatch(cmd string, args []string) error {
	switch cmd {
	case "help":
		fmt.Println(help)
		return nil
	case "open":
		h, err := r.mgr.Open(context.Background(), r.owner)
		if err != nil {
			return err
		}
		r.handle = h
		fmt.Println("handle:", h)
		return nil
	case "close":
		if r.handle == pstore.InvalidHandle {
			return fmt.Errorf("no open handle")
		}
		if err := r.mgr.Close(context.Background(), r.owner, r.handle); err != nil {
			return err
		}
		r.handle = pstore.InvalidHandle
		return nil
	case "list":
		for _, row := range r.catalog.All() {
			typ, _ := r.catalog.ItemType(row.ItemID)
			fmt.Printf("%-28s id=%d type=%s\n", r.catalog.Name(row.ItemID), int32(row.ItemID), typ)
		}
		return nil
	case "save":
		if len(args) < 2 {
			return fmt.Errorf("usage: save <item> <hex-bytes>")
		}
		return r.save(args[0], args[1])
	case "load":
		if len(args) < 1 {
			return fmt.Errorf("usage: load <item>")
		}
		return r.load(args[0])
	case "clear":
		if len(args) < 1 {
			return fmt.Errorf("usage: clear <item>")
		}
		return r.clear(args[0])
	case "size":
		if len(args) < 1 {
			return fmt.Errorf("usage: size <item>")
		}
		return r.size(args[0])
	case "factory-reset":
		return r.mgr.InvokeFactoryReset(context.Background(), r.owner)
	default:
		return fmt.Errorf("unknown command %q (try 'help')", cmd)
	}
}

// scalarInfo builds a one-member StructInfo backed by a *[]byte, letting
// the shell exercise Save/Load/Clear against any catalog item without a
// generated struct per item.
func scalarInfo(itemID pstore.ItemID, itemType pstore.ItemType, maxSize uint32, box *[]byte) *pstore.StructInfo {
	return &pstore.StructInfo{
		Members: []pstore.MemberDescriptor{{
			ItemID:  itemID,
			Type:    itemType,
			MaxSize: maxSize,
			Enabled: func(pstore.Mask) bool { return true },
			Get:     func(any) ([]byte, error) { return *box, nil },
			Set:     func(_ any, value []byte) error { *box = append([]byte(nil), value...); return nil },
		}},
	}
}

func (r *REPL) resolve(name string) (pstore.ItemID, pstore.ItemType, uint32, error) {
	id, ok := r.catalog.ByName(name)
	if !ok {
		return 0, 0, 0, fmt.Errorf("unknown item %q", name)
	}
	row, _ := r.catalog.Lookup(id)
	typ, _ := r.catalog.ItemType(id)
	return id, typ, row.MaxSize, nil
}

func (r *REPL) save(name, hexBytes string) error {
	id, typ, maxSize, err := r.resolve(name)
	if err != nil {
		return err
	}
	val, err := parseHex(hexBytes)
	if err != nil {
		return err
	}
	box := val
	info := scalarInfo(id, typ, maxSize, &box)
	return r.mgr.Save(context.Background(), r.owner, r.handle, allMask, nil, info, nil)
}

func (r *REPL) load(name string) error {
	id, typ, maxSize, err := r.resolve(name)
	if err != nil {
		return err
	}
	var box []byte
	info := scalarInfo(id, typ, maxSize, &box)
	if err := r.mgr.Load(context.Background(), r.owner, r.handle, allMask, nil, info, nil); err != nil {
		return err
	}
	fmt.Printf("%x\n", box)
	return nil
}

func (r *REPL) clear(name string) error {
	id, typ, maxSize, err := r.resolve(name)
	if err != nil {
		return err
	}
	var box []byte
	info := scalarInfo(id, typ, maxSize, &box)
	return r.mgr.Clear(context.Background(), r.owner, r.handle, allMask, info, nil)
}

// allMask is the mask passed to every call; scalarInfo's predicate ignores
// it and always enables the single member.
const allMask pstore.Mask = 1

func (r *REPL) size(name string) error {
	id, _, _, err := r.resolve(name)
	if err != nil {
		return err
	}
	size, err := r.mgr.GetSize(context.Background(), r.owner, r.handle, id)
	if err != nil {
		return err
	}
	fmt.Println(size)
	return nil
}

func parseHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex string must have even length")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		var b byte
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &b); err != nil {
			return nil, fmt.Errorf("invalid hex byte %q: %w", s[i*2:i*2+2], err)
		}
		out[i] = b
	}
	return out, nil
}
