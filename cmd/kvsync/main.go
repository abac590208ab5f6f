package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/wesleyyan-sb/kvsync"
	"github.com/wesleyyan-sb/kvsync/internal/logging"
)

func main() {
	dir := flag.String("dir", "kvsync-data", "Path to the store directory")
	password := flag.String("password", "", "Store password")
	keyFile := flag.String("keyfile", "", "Path to a 32-byte key-file (created if absent)")
	flag.Parse()

	if *password == "" {
		fmt.Print("Enter password: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*password = strings.TrimSpace(scanner.Text())
		}
	}
	if *password == "" {
		fmt.Println("Password is required.")
		os.Exit(1)
	}

	opts := []kvsync.Option{kvsync.WithLogger(logging.Std{Print: func(s string) { fmt.Println(s) }})}
	if *keyFile != "" {
		opts = append(opts, kvsync.WithKeyFilePath(*keyFile))
	}

	db, err := kvsync.Open(*dir, *password, opts...)
	if err != nil {
		fmt.Printf("Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("kvsync shell")
	fmt.Println("Commands: put <col> <key> <val>, get <col> <key>, rm <col> <key>, list <col> [prefix], sync, compact, exit")

	ctx := context.Background()
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		switch strings.ToLower(parts[0]) {
		case "put":
			if len(parts) < 4 {
				fmt.Println("Usage: put <collection> <key> <value>")
				continue
			}
			val := strings.Join(parts[3:], " ")
			if err := db.Put(parts[1], parts[2], []byte(val)); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}
		case "get":
			if len(parts) != 3 {
				fmt.Println("Usage: get <collection> <key>")
				continue
			}
			val, err := db.Get(parts[1], parts[2])
			if err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Printf("%s\n", val)
			}
		case "rm":
			if len(parts) != 3 {
				fmt.Println("Usage: rm <collection> <key>")
				continue
			}
			if err := db.Remove(parts[1], parts[2]); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("OK")
			}
		case "list":
			if len(parts) < 2 {
				fmt.Println("Usage: list <collection> [prefix]")
				continue
			}
			prefix := ""
			if len(parts) >= 3 {
				prefix = parts[2]
			}
			keys, err := db.List(parts[1], prefix)
			if err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			for _, k := range keys {
				fmt.Println(k)
			}
		case "sync":
			if err := db.Sync(ctx); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("Sync complete")
			}
		case "compact":
			if err := db.Compact(); err != nil {
				fmt.Printf("Error: %v\n", err)
			} else {
				fmt.Println("Compaction complete")
			}
		case "exit", "quit":
			return
		default:
			fmt.Println("Unknown command")
		}
	}
}
