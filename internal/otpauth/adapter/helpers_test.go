package adapter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aelexs/otp-auth/internal/domain"
	"github.com/aelexs/otp-auth/internal/dynamo"
	"github.com/aelexs/otp-auth/internal/otp"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestGenerator(t *testing.T) *otp.Generator {
	t.Helper()
	gen, err := otp.NewGenerator(domain.SecretBytes("adapter-test-pepper-32-bytes-long"))
	require.NoError(t, err)
	return gen
}

// fakeTable is an in-memory challengeDynamoDB that honours the two
// condition shapes the store emits: attribute_not_exists on the key, and
// equality on version.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]dynamo.AttributeValue

	getErr    error
	putErr    error
	beforePut func(t *fakeTable) // runs without mu held
	puts      int
	conflicts int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: make(map[string]map[string]dynamo.AttributeValue)}
}

func (f *fakeTable) GetItem(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if params.ConsistentRead == nil || !*params.ConsistentRead {
		return nil, fmt.Errorf("fake table: reads must be strongly consistent")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[keyOf(params.Key)]
	if !ok {
		return &dynamo.GetItemOutput{}, nil
	}
	return &dynamo.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeTable) PutItem(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	if f.beforePut != nil {
		f.beforePut(f)
	}
	if f.putErr != nil {
		return nil, f.putErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++

	key := keyOf(params.Item)
	existing, exists := f.items[key]

	if params.ConditionExpression == nil {
		return nil, fmt.Errorf("fake table: unconditional put")
	}
	cond := *params.ConditionExpression
	switch {
	case strings.Contains(cond, "attribute_not_exists"):
		if exists {
			f.conflicts++
			return nil, dynamo.ErrConditionalCheckFailed()
		}
	default:
		want, _ := params.ExpressionAttributeValues[":0"].(*dynamo.AttributeValueMemberN)
		got, _ := existing["version"].(*dynamo.AttributeValueMemberN)
		if !exists || want == nil || got == nil || want.Value != got.Value {
			f.conflicts++
			return nil, dynamo.ErrConditionalCheckFailed()
		}
	}

	f.items[key] = copyItem(params.Item)
	return &dynamo.PutItemOutput{}, nil
}

// bumpVersion simulates a concurrent writer by incrementing the stored
// version of every item.
func (f *fakeTable) bumpVersion() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, item := range f.items {
		var v int64
		if n, ok := item["version"].(*dynamo.AttributeValueMemberN); ok {
			_, _ = fmt.Sscan(n.Value, &v)
		}
		item["version"] = &dynamo.AttributeValueMemberN{Value: fmt.Sprint(v + 1)}
	}
}

func (f *fakeTable) only(t *testing.T) challengeItem {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.items, 1)
	var out challengeItem
	for _, item := range f.items {
		require.NoError(t, dynamo.UnmarshalMap(item, &out))
	}
	return out
}

func keyOf(item map[string]dynamo.AttributeValue) string {
	if s, ok := item["phone_hash"].(*dynamo.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func copyItem(in map[string]dynamo.AttributeValue) map[string]dynamo.AttributeValue {
	out := make(map[string]dynamo.AttributeValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
