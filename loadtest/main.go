// Command loadtest seeds one project per linked account, starts them all and
// reports delivery progress until every project has auto-stopped. Run the
// server with provider.dry_run and a short gap to measure worker throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"postpilot/client"
	v1 "postpilot/pkg/api/v1"
	"postpilot/pkg/logger"
)

// Configuration
var (
	targetURL = flag.String("url", "http://localhost:8080", "postpilot base URL")
	token     = flag.String("token", "", "bearer token (see cmd/token)")
	accounts  = flag.String("accounts", "", "comma-separated linked account ids, one project each")
	posts     = flag.Int("posts", 100, "posts per project")
	gap       = flag.Int("gap", 1, "time gap in minutes")
	timeout   = flag.Duration("timeout", 30*time.Minute, "give up after")
	cleanup   = flag.Bool("cleanup", true, "delete seeded projects when done")
)

// Metrics
var (
	seeded     int64
	startErrs  int64
	seedErrs   int64
	lastPosted int64
)

func main() {
	flag.Parse()
	logger.InitLogger("dev")

	ids := splitIDs(*accounts)
	if *token == "" || len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "-token and -accounts are required")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	c := client.NewPostPilotClient(*targetURL, *token)

	fmt.Printf("🚀 Starting Load Test\n")
	fmt.Printf("   Target: %s\n", *targetURL)
	fmt.Printf("   Projects: %d x %d posts, gap %dm\n", len(ids), *posts, *gap)

	projectIDs := seed(ctx, c, ids)
	if len(projectIDs) == 0 {
		fmt.Println("no project could be seeded")
		os.Exit(1)
	}
	fmt.Printf("✅ Seeded %d projects (seed errors: %d, start errors: %d)\n",
		atomic.LoadInt64(&seeded), atomic.LoadInt64(&seedErrs), atomic.LoadInt64(&startErrs))

	began := time.Now()
	report(ctx, c, projectIDs, began)

	if *cleanup {
		for _, id := range projectIDs {
			if err := c.DeleteProject(context.Background(), id); err != nil && !client.IsNotFound(err) {
				fmt.Printf("cleanup %s: %v\n", id, err)
			}
		}
	}
}

func seed(ctx context.Context, c *client.PostPilotClient, accountIDs []string) []string {
	var (
		mu  sync.Mutex
		out []string
		wg  sync.WaitGroup
	)
	for i, accountID := range accountIDs {
		wg.Add(1)
		go func(i int, accountID string) {
			defer wg.Done()
			p, err := c.CreateProject(ctx, v1.CreateProjectRequest{
				Name:           fmt.Sprintf("loadtest-%d-%d", time.Now().Unix(), i),
				AccountID:      accountID,
				TimeGapMinutes: *gap,
			})
			if err != nil {
				atomic.AddInt64(&seedErrs, 1)
				fmt.Printf("create project for %s: %v\n", accountID, err)
				return
			}
			contents := make([]string, *posts)
			for j := range contents {
				contents[j] = fmt.Sprintf("loadtest post %d/%d of %s", j+1, *posts, p.ID)
			}
			if _, err := c.AddPosts(ctx, p.ID, contents); err != nil {
				atomic.AddInt64(&seedErrs, 1)
				fmt.Printf("add posts to %s: %v\n", p.ID, err)
				return
			}
			if _, err := c.Start(ctx, p.ID); err != nil {
				atomic.AddInt64(&startErrs, 1)
				fmt.Printf("start %s: %v\n", p.ID, err)
				return
			}
			atomic.AddInt64(&seeded, 1)
			mu.Lock()
			out = append(out, p.ID)
			mu.Unlock()
		}(i, accountID)
	}
	wg.Wait()
	return out
}

// report polls the listing once a second until none of the seeded projects
// is running or paused.
func report(ctx context.Context, c *client.PostPilotClient, projectIDs []string, began time.Time) {
	want := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		want[id] = true
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Printf("⏹  stopped: %v\n", ctx.Err())
			return
		case <-ticker.C:
		}

		listing, err := c.ListProjects(ctx)
		if err != nil {
			fmt.Printf("list projects: %v\n", err)
			continue
		}

		var active int
		var total v1.Stats
		for _, group := range [][]v1.ProjectSummary{listing.Active, listing.PendingStopped, listing.Completed} {
			for _, p := range group {
				if !want[p.ID] {
					continue
				}
				total.Pending += p.Stats.Pending
				total.Posted += p.Stats.Posted
				total.Failed += p.Stats.Failed
			}
		}
		for _, p := range listing.Active {
			if want[p.ID] {
				active++
			}
		}

		rate := total.Posted - atomic.SwapInt64(&lastPosted, total.Posted)
		fmt.Printf("[%s] Active: %d | Pending: %d | Posted: %d | Failed: %d | Posts/s: %d\n",
			time.Now().Format("15:04:05"), active, total.Pending, total.Posted, total.Failed, rate)

		if active == 0 {
			fmt.Printf("🏁 All projects stopped after %v\n", time.Since(began).Round(time.Second))
			return
		}
	}
}

func splitIDs(s string) []string {
	var out []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
