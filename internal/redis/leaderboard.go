package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcade-scores/internal/domain"
)

// boardIndexKey is a set of every board that has held an entry
const boardIndexKey = "leaderboard:boards"

// submitBestScript applies compare-and-improve to every board passed in KEYS.
// KEYS: ranked/members pairs per board, then the board index.
// ARGV: player id, negated score, member, then one board name per pair.
// Returns improved, 0-indexed rank and stored (negated) score per board.
var submitBestScript = redis.NewScript(`
local player = ARGV[1]
local neg = tonumber(ARGV[2])
local member = ARGV[3]
local index = KEYS[#KEYS]
local out = {}
for i = 1, (#KEYS - 1) / 2 do
  local ranked = KEYS[2 * i - 1]
  local members = KEYS[2 * i]
  local cur = redis.call('HGET', members, player)
  local improved = 0
  if cur then
    local stored = redis.call('ZSCORE', ranked, cur)
    if not stored or neg < tonumber(stored) then
      redis.call('ZREM', ranked, cur)
      cur = false
    end
  end
  if not cur then
    redis.call('ZADD', ranked, ARGV[2], member)
    redis.call('HSET', members, player, member)
    redis.call('SADD', index, ARGV[3 + i])
    cur = member
    improved = 1
  end
  out[#out + 1] = improved
  out[#out + 1] = redis.call('ZRANK', ranked, cur)
  out[#out + 1] = redis.call('ZSCORE', ranked, cur)
end
return out
`)

// LeaderboardStore keeps ranked sets in Redis sorted sets.
//
// Scores are stored negated so ascending order is best first, and the member is the
// zero-padded achievement time in milliseconds followed by the player id. Equal scores
// therefore order by the earlier timestamp and then by player id. A hash per board maps
// each player to their current member.
type LeaderboardStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewLeaderboardStore creates a new Redis leaderboard store
func NewLeaderboardStore(client *redis.Client, logger *slog.Logger) *LeaderboardStore {
	return &LeaderboardStore{
		client: client,
		logger: logger,
	}
}

// rankedKey returns the Redis key for a board's sorted set
func rankedKey(board domain.BoardKey) string {
	return fmt.Sprintf("leaderboard:%s:%s:ranked", board.Scope, board.Period)
}

// membersKey returns the Redis key for a board's player -> member hash
func membersKey(board domain.BoardKey) string {
	return fmt.Sprintf("leaderboard:%s:%s:members", board.Scope, board.Period)
}

func encodeMember(playerID string, at time.Time) string {
	return fmt.Sprintf("%020d:%s", at.UnixMilli(), playerID)
}

func decodeMember(member string) (string, time.Time, error) {
	if len(member) < 22 || member[20] != ':' {
		return "", time.Time{}, fmt.Errorf("malformed leaderboard member %q", member)
	}
	ms, err := strconv.ParseInt(member[:20], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed leaderboard member %q: %w", member, err)
	}
	return member[21:], time.UnixMilli(ms).UTC(), nil
}

func decodeScore(v any) (int64, error) {
	switch s := v.(type) {
	case string:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, err
		}
		return -int64(f), nil
	case int64:
		return -s, nil
	}
	return 0, fmt.Errorf("unexpected score type %T", v)
}

// SubmitBest applies the improvement to every board in a single script call
func (s *LeaderboardStore) SubmitBest(ctx context.Context, playerID string, boards []domain.BoardKey, score int64, at time.Time) ([]domain.BoardResult, error) {
	if len(boards) == 0 {
		return []domain.BoardResult{}, nil
	}

	keys := make([]string, 0, 2*len(boards)+1)
	args := make([]any, 0, 3+len(boards))
	args = append(args, playerID, -score, encodeMember(playerID, at))
	for _, b := range boards {
		keys = append(keys, rankedKey(b), membersKey(b))
		args = append(args, b.String())
	}
	keys = append(keys, boardIndexKey)

	raw, err := submitBestScript.Run(ctx, s.client, keys, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("submitting best score: %w", err)
	}
	if len(raw) != 3*len(boards) {
		return nil, fmt.Errorf("submitting best score: unexpected reply length %d", len(raw))
	}

	results := make([]domain.BoardResult, len(boards))
	for i, b := range boards {
		improved, _ := raw[3*i].(int64)
		rank, _ := raw[3*i+1].(int64)
		best, err := decodeScore(raw[3*i+2])
		if err != nil {
			return nil, fmt.Errorf("decoding best score: %w", err)
		}
		results[i] = domain.BoardResult{
			Board:    b,
			Improved: improved == 1,
			Rank:     rank + 1, // Convert 0-indexed to 1-indexed
			Best:     best,
		}
	}
	return results, nil
}

// PlayerRank returns a player's rank and best score
func (s *LeaderboardStore) PlayerRank(ctx context.Context, board domain.BoardKey, playerID string) (*domain.LeaderboardEntry, error) {
	member, err := s.client.HGet(ctx, membersKey(board), playerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player member: %w", err)
	}

	// Use pipeline to get both rank and score
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRank(ctx, rankedKey(board), member)
	scoreCmd := pipe.ZScore(ctx, rankedKey(board), member)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	_, at, err := decodeMember(member)
	if err != nil {
		return nil, err
	}
	return &domain.LeaderboardEntry{
		Rank:       rankCmd.Val() + 1,
		PlayerID:   playerID,
		Score:      -int64(scoreCmd.Val()),
		AchievedAt: at,
	}, nil
}

// Range returns entries between two 0-indexed ranks, stop inclusive
func (s *LeaderboardStore) Range(ctx context.Context, board domain.BoardKey, start, stop int64) ([]domain.LeaderboardEntry, error) {
	start = max(start, 0)
	if stop >= 0 && stop < start {
		return []domain.LeaderboardEntry{}, nil
	}

	results, err := s.client.ZRangeWithScores(ctx, rankedKey(board), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(results))
	for i, z := range results {
		member, _ := z.Member.(string)
		playerID, at, err := decodeMember(member)
		if err != nil {
			s.logger.Warn("skipping malformed leaderboard member", "board", board.String(), "error", err)
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			Rank:       start + int64(i) + 1,
			PlayerID:   playerID,
			Score:      -int64(z.Score),
			AchievedAt: at,
		})
	}
	return entries, nil
}

// Count returns the number of players in a board
func (s *LeaderboardStore) Count(ctx context.Context, board domain.BoardKey) (int64, error) {
	count, err := s.client.ZCard(ctx, rankedKey(board)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// Reset clears boards in one transaction
func (s *LeaderboardStore) Reset(ctx context.Context, boards []domain.BoardKey) error {
	if len(boards) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, b := range boards {
			pipe.Del(ctx, rankedKey(b), membersKey(b))
			pipe.SRem(ctx, boardIndexKey, b.String())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting leaderboards: %w", err)
	}
	return nil
}

// Boards lists the boards recorded in the index
func (s *LeaderboardStore) Boards(ctx context.Context) ([]domain.BoardKey, error) {
	names, err := s.client.SMembers(ctx, boardIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("listing leaderboards: %w", err)
	}

	boards := make([]domain.BoardKey, 0, len(names))
	for _, name := range names {
		b, err := domain.ParseBoardKey(name)
		if err != nil {
			s.logger.Warn("skipping malformed board name", "name", name, "error", err)
			continue
		}
		boards = append(boards, b)
	}
	slices.SortFunc(boards, func(a, b domain.BoardKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return boards, nil
}
