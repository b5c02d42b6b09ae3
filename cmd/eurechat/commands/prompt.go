package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/SokratisVidros/eurechat/pkg/chat"
	"github.com/SokratisVidros/eurechat/pkg/directory"
)

// Interactive command grammar, username restricted to alphanumerics the
// same way the directory records them.
var (
	chatRe   = regexp.MustCompile(`^chat ([a-zA-Z0-9]+) (.*)$`)
	listRe   = regexp.MustCompile(`^list(?: ([a-zA-Z0-9]+))?$`)
	pingRe   = regexp.MustCompile(`^ping ([a-zA-Z0-9]+)$`)
	secretRe = regexp.MustCompile(`^secret ([a-zA-Z0-9]+) (.*)$`)
)

const helpText = `Available commands:
  chat <user> <text>     Chat with another user
  list [<user>]          List all online users, or look one up
  ping <user>            Ping a user's peer listener
  secret <user> <text>   Get the secret token from the bot user
  help                   Show this message
  bye                    Leave the directory and quit`

// runPrompt starts the client and drives the interactive command loop until
// bye or end of input. Command failures are reported and the prompt
// continues; only startup failure is fatal.
func runPrompt(ctx context.Context, username, password string) error {
	client := chat.NewClient(chat.Config{
		DirectoryAddr: directoryAddr,
		Username:      username,
		Password:      password,
		BindAddress:   bindAddress,
	}, chat.MessageSinkFunc(func(from, text string) {
		fmt.Printf("\r%s: %s\n> ", from, text)
	}))

	if err := client.Start(ctx); err != nil {
		return err
	}
	defer client.Close()

	fmt.Printf("Connected to %s as %s, accepting peers on port %d.\n",
		directoryAddr, username, client.PeerPort())
	fmt.Println(`Type "help" for the command list.`)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			_ = client.Leave(ctx)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "bye" {
			if err := client.Leave(ctx); err != nil {
				fmt.Printf("Leave Error: %v\n", err)
			}
			return nil
		}
		dispatch(ctx, client, line)
	}
}

// dispatch runs one prompt command, printing results and errors.
func dispatch(ctx context.Context, client *chat.Client, line string) {
	switch {
	case line == "help":
		fmt.Println(helpText)

	case chatRe.MatchString(line):
		m := chatRe.FindStringSubmatch(line)
		if err := client.Chat(ctx, m[1], m[2]); err != nil {
			fmt.Printf("Chat Error: %v\n", err)
		}

	case listRe.MatchString(line):
		m := listRe.FindStringSubmatch(line)
		records, err := client.List(ctx, m[1])
		if err != nil {
			fmt.Printf("List Error: %v\n", err)
			return
		}
		printUserList(records)

	case pingRe.MatchString(line):
		m := pingRe.FindStringSubmatch(line)
		reply, err := client.Ping(ctx, m[1])
		if err != nil {
			fmt.Printf("Ping Error: %v\n", err)
			return
		}
		fmt.Println(reply)

	case secretRe.MatchString(line):
		m := secretRe.FindStringSubmatch(line)
		replies, err := client.Secret(ctx, m[1], m[2])
		for _, reply := range replies {
			fmt.Printf("Bot user: %s\n", reply)
		}
		if err != nil {
			fmt.Printf("Chat Error: %v\n", err)
		}

	default:
		fmt.Println("Invalid command, type help to list all the available commands.")
	}
}

// printUserList renders the online user table.
func printUserList(records []directory.Record) {
	if len(records) == 0 {
		fmt.Println("No users online.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"User", "Address", "Port"})
	for _, rec := range records {
		table.Append([]string{rec.Username, rec.Endpoint.Address, strconv.Itoa(rec.Endpoint.Port)})
	}
	table.Render()
}
