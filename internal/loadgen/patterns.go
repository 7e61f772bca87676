package loadgen

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"time"
)

const seedKeys = 5

type item struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// DefaultPatterns returns the workloads that make up a standard run.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{
			Name:     "hello",
			Interval: 100 * time.Millisecond,
			Step: func(ctx context.Context, c *Client) (int, error) {
				return c.Get(ctx, "/")
			},
		},
		{
			Name:     "add_item",
			Interval: 200 * time.Millisecond,
			Step: func(ctx context.Context, c *Client) (int, error) {
				now := time.Now()
				return c.PostJSON(ctx, "/items", item{
					Key:   uniqueKey(now),
					Value: fmt.Sprintf("test_value_%d", now.Unix()),
				})
			},
		},
		{
			Name:     "get_item",
			Interval: 100 * time.Millisecond,
			Setup:    seed,
			Step: func(ctx context.Context, c *Client) (int, error) {
				return c.Get(ctx, itemPath(seedKey(rand.IntN(seedKeys)+1)))
			},
		},
		{
			Name:     "list_items",
			Interval: 300 * time.Millisecond,
			Step: func(ctx context.Context, c *Client) (int, error) {
				return c.Get(ctx, "/items")
			},
		},
		{
			Name:     "cache_miss",
			Interval: 500 * time.Millisecond,
			Step: func(ctx context.Context, c *Client) (int, error) {
				return c.Get(ctx, itemPath(missingKey(time.Now())))
			},
		},
	}
}

// seed writes the fixed keys read by get_item. Failures are ignored; reads of an
// unseeded key just come back as 404s.
func seed(ctx context.Context, c *Client) {
	for i := 1; i <= seedKeys; i++ {
		_, _ = c.PostJSON(ctx, "/items", item{
			Key:   seedKey(i),
			Value: fmt.Sprintf("load_test_value_%d", i),
		})
	}
}

func seedKey(i int) string {
	return fmt.Sprintf("load_test_key_%d", i)
}

func uniqueKey(now time.Time) string {
	return fmt.Sprintf("test_key_%d_%d", now.Unix(), randSuffix())
}

// missingKey never collides with keys written by the other patterns.
func missingKey(now time.Time) string {
	return fmt.Sprintf("cache_miss_%d_%d_%d", now.Unix(), randSuffix(), randSuffix())
}

func randSuffix() int {
	return 1000 + rand.IntN(9000)
}

func itemPath(key string) string {
	return "/items/" + url.PathEscape(key)
}
