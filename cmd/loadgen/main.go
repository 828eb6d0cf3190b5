package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/arcade-scores/internal/checksum"
	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/handler"
)

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

type client struct {
	base string
	http *http.Client
}

func (c *client) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) games(ctx context.Context) ([]handler.GameInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/v1/games", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out envelope[[]handler.GameInfo]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// randomInputs spreads n events over duration milliseconds with jittered gaps
func randomInputs(rng *rand.Rand, n int, duration int64) []domain.InputEvent {
	inputs := make([]domain.InputEvent, 0, n)
	var t int64
	for i := 0; i < n; i++ {
		t += rng.Int63n(max(2*duration/int64(n+1), 1))
		if t > duration {
			break
		}
		ev := domain.InputEvent{T: t, Kind: domain.InputKindDirection}
		switch rng.Intn(5) {
		case 0:
			ev.Payload.Up = true
		case 1:
			ev.Payload.Down = true
		case 2:
			ev.Payload.Left = true
		case 3:
			ev.Payload.Right = true
		default:
			ev.Kind = domain.InputKindAction
			ev.Payload.Action = true
		}
		inputs = append(inputs, ev)
	}
	return inputs
}

type stats struct {
	accepted, rejected, failed atomic.Int64
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "Score service base URL")
	totalPlayers := flag.Int("players", 200, "Number of distinct players")
	sessions := flag.Int("sessions", 1000, "Sessions to play (0 = until interrupted)")
	concurrency := flag.Int("concurrency", 32, "Sessions played in parallel")
	playTime := flag.Duration("play", 2*time.Second, "Wall-clock length of each session")
	cheatRate := flag.Int("cheat", 5, "Percent of sessions that submit a forged score")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := &client{base: *addr, http: &http.Client{Timeout: 10 * time.Second}}
	games, err := c.games(ctx)
	if err != nil || len(games) == 0 {
		log.Fatalf("Failed to list games: %v", err)
	}

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  Arcade Score Load Generator")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Target:           %s\n", *addr)
	fmt.Printf("  Games:            %d\n", len(games))
	fmt.Printf("  Players:          %d\n", *totalPlayers)
	fmt.Printf("  Concurrency:      %d\n", *concurrency)
	fmt.Printf("  Cheat rate:       %d%%\n", *cheatRate)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	var st stats
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-statsTicker.C:
				fmt.Printf("[%s] Accepted: %d | Rejected: %d | Failed: %d\n",
					time.Now().Format("15:04:05"),
					st.accepted.Load(), st.rejected.Load(), st.failed.Load(),
				)
			}
		}
	}()

	p := pool.New().WithContext(ctx).WithMaxGoroutines(*concurrency)
	for i := 0; *sessions == 0 || i < *sessions; i++ {
		if ctx.Err() != nil {
			break
		}
		seq := int64(i)
		p.Go(func(ctx context.Context) error {
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + seq))
			game := games[rng.Intn(len(games))]
			player := getPlayerName(rng.Intn(*totalPlayers))
			cheat := rng.Intn(100) < *cheatRate

			if err := playSession(ctx, c, rng, game, player, *playTime, cheat, &st); err != nil && ctx.Err() == nil {
				st.failed.Add(1)
				log.Printf("Session failed: player=%s game=%s: %v", player, game.ID, err)
			}
			return nil
		})
	}
	_ = p.Wait()

	fmt.Printf("\n✓ Completed. Accepted: %d, Rejected: %d, Failed: %d\n",
		st.accepted.Load(), st.rejected.Load(), st.failed.Load())
}

func playSession(ctx context.Context, c *client, rng *rand.Rand, game handler.GameInfo, player string, playTime time.Duration, cheat bool, st *stats) error {
	var created envelope[domain.CreateSessionResponse]
	status, err := c.post(ctx, "/api/v1/sessions", domain.CreateSessionRequest{
		PlayerID: player,
		GameID:   game.ID,
		Mode:     domain.SessionModeRanked,
	}, &created)
	if err != nil {
		return err
	}
	if status != http.StatusCreated {
		return fmt.Errorf("create session: status %d: %s", status, created.Error)
	}

	start := time.Now()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(playTime):
	}
	duration := time.Since(start).Milliseconds()

	inputs := randomInputs(rng, 5+rng.Intn(40), duration)
	ceiling := int64(game.PointsPerSecond * float64(duration) / 1000)
	score := rng.Int63n(max(ceiling, 1))
	if cheat {
		score = ceiling*10 + 1000
	}

	var result envelope[domain.SubmitScoreResult]
	status, err = c.post(ctx, "/api/v1/scores", domain.ScoreSubmission{
		SessionID:  created.Data.SessionID,
		GameID:     game.ID,
		Seed:       created.Data.Seed,
		Inputs:     inputs,
		FinalScore: score,
		Duration:   duration,
		Checksum:   checksum.Digest(created.Data.Seed, inputs),
	}, &result)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK:
		st.accepted.Add(1)
	case http.StatusUnprocessableEntity:
		st.rejected.Add(1)
		if !cheat {
			log.Printf("Honest run rejected: player=%s reason=%s flags=%v", player, result.Data.Reason, result.Data.Flags)
		}
	default:
		return fmt.Errorf("submit score: status %d: %s", status, result.Error)
	}
	return nil
}
