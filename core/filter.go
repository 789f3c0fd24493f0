package core

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/pkg/errors"
)

// LogChanSize is the buffer between the chain feed and a filtered subscriber.
const LogChanSize = 1000

var _ ethereum.LogFilterer = (*Chain)(nil)

// FilterLogs returns the journaled logs matching q. Block numbers are message
// sequence numbers; a nil bound means genesis or the current head.
func (c *Chain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if q.BlockHash != nil {
		return nil, errors.New("filtering by block hash is not supported")
	}
	head := c.Head().Seq
	from, to := uint64(1), head
	if q.FromBlock != nil {
		if !q.FromBlock.IsUint64() {
			return nil, errors.Errorf("invalid from block %s", q.FromBlock)
		}
		from = q.FromBlock.Uint64()
	}
	if q.ToBlock != nil && q.ToBlock.Sign() >= 0 && q.ToBlock.IsUint64() && q.ToBlock.Uint64() < head {
		to = q.ToBlock.Uint64()
	}

	var out []types.Log
	for seq := from; seq <= to; seq++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		logs, err := c.journal.Logs(seq)
		if err != nil {
			return nil, err
		}
		for _, l := range logs {
			if matchLog(l, q.Addresses, q.Topics) {
				out = append(out, *l)
			}
		}
	}
	return out, nil
}

// SubscribeFilterLogs streams logs matching q as messages commit. The block
// range of q is ignored; use FilterLogs for history.
func (c *Chain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	batches := make(chan []*types.Log, LogChanSize)
	feedSub := c.SubscribeLogs(batches)

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer feedSub.Unsubscribe()
		for {
			select {
			case logs := <-batches:
				for _, l := range logs {
					if !matchLog(l, q.Addresses, q.Topics) {
						continue
					}
					select {
					case ch <- *l:
					case <-quit:
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			case err := <-feedSub.Err():
				return err
			case <-quit:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}), nil
}

// matchLog applies the usual eth_getLogs rules: any of addresses, and per
// position any of the topics, an empty position matching everything.
func matchLog(l *types.Log, addresses []common.Address, topics [][]common.Hash) bool {
	if len(addresses) > 0 {
		found := false
		for _, a := range addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(topics) > len(l.Topics) {
		return false
	}
	for i, sub := range topics {
		if len(sub) == 0 {
			continue
		}
		found := false
		for _, t := range sub {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
