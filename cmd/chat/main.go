package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/bookweather-chat/server/pkg/citemap"
)

var (
	serverURL = flag.String("url", "http://localhost:8000", "Chat server base URL")
	timeout   = flag.Duration("timeout", 2*time.Minute, "Timeout for one answer")
	showMap   = flag.Bool("citations", true, "Print the citation map after each answer")
)

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Println(boldGreen("Book & Weather Chat"))
	fmt.Printf("Server: %s\n", boldCyan(*serverURL))
	fmt.Println("Ask about the book or the current weather. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	client := &http.Client{}
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			break
		}

		fmt.Print(boldCyan("Assistant: "))
		reqCtx, cancel := context.WithTimeout(ctx, *timeout)
		cites, err := ask(reqCtx, client, *serverURL, input, os.Stdout)
		cancel()
		fmt.Println()
		if err != nil {
			color.Red("Error: %v", err)
			if ctx.Err() != nil {
				return
			}
			fmt.Println()
			continue
		}
		if *showMap {
			printCitations(os.Stdout, cites)
		}
		fmt.Println()
	}
}

// ask posts message and copies the prose to out as it streams. The citation
// block is held back and returned parsed.
func ask(ctx context.Context, client *http.Client, baseURL, message string, out io.Writer) (citemap.Map, error) {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/chat", strings.NewReader(string(payload)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var detail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&detail); err != nil || detail.Detail == "" {
			return nil, fmt.Errorf("server returned %s", resp.Status)
		}
		return nil, fmt.Errorf("%s (%s)", detail.Detail, resp.Status)
	}

	p := &streamPrinter{out: out}
	if _, err := io.Copy(p, resp.Body); err != nil {
		return nil, err
	}
	return p.finish()
}

// streamPrinter writes prose through and withholds any tail that could be
// the start of the citation block.
type streamPrinter struct {
	out     io.Writer
	body    strings.Builder
	printed int
}

var marker = citemap.Separator + citemap.Sentinel

func (p *streamPrinter) Write(b []byte) (int, error) {
	p.body.Write(b)
	body := p.body.String()

	limit := len(body)
	if idx := strings.Index(body, marker); idx >= 0 {
		limit = idx
	} else if tail := partialSuffix(body, marker); tail > 0 {
		limit = len(body) - tail
	}
	if limit > p.printed {
		if _, err := io.WriteString(p.out, body[p.printed:limit]); err != nil {
			return 0, err
		}
		p.printed = limit
	}
	return len(b), nil
}

func (p *streamPrinter) finish() (citemap.Map, error) {
	prose, cites, found, err := citemap.Split(p.body.String())
	if len(prose) > p.printed {
		if _, werr := io.WriteString(p.out, prose[p.printed:]); werr != nil {
			return nil, werr
		}
		p.printed = len(prose)
	}
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("answer ended without a citation map")
	}
	return cites, nil
}

// partialSuffix returns the length of the longest suffix of s that is a
// proper prefix of m.
func partialSuffix(s, m string) int {
	for n := min(len(m)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, m[:n]) {
			return n
		}
	}
	return 0
}

func printCitations(out io.Writer, cites citemap.Map) {
	if len(cites) == 0 {
		return
	}
	yellow := color.New(color.FgYellow).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()
	fmt.Fprintln(out)
	for _, n := range cites.Markers() {
		fmt.Fprintf(out, "%s %s\n", yellow(fmt.Sprintf("[%d]", n)), faint(cites[n]))
	}
}
