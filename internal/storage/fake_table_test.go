package storage

import (
	"context"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
)

// fakeTable keeps entities in insertion order per partition and serves them
// in pages of pageSize.
type fakeTable struct {
	mu       sync.Mutex
	rows     map[string][]map[string]any
	pageSize int
	filters  []string
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string][]map[string]any{}, pageSize: 2}
}

func (f *fakeTable) find(pk, rk string) int {
	for i, r := range f.rows[pk] {
		if r["RowKey"] == rk {
			return i
		}
	}
	return -1
}

func (f *fakeTable) put(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (f *fakeTable) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	if opts != nil && opts.Filter != nil {
		f.filters = append(f.filters, *opts.Filter)
	}
	var all [][]byte
	for _, rows := range f.rows {
		for _, r := range rows {
			data, _ := sonic.Marshal(r)
			all = append(all, data)
		}
	}
	f.mu.Unlock()

	offset := 0
	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(resp aztables.ListEntitiesResponse) bool {
			return offset < len(all)
		},
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			end := offset + f.pageSize
			if end > len(all) {
				end = len(all)
			}
			page := aztables.ListEntitiesResponse{Entities: all[offset:end]}
			offset = end
			return page, nil
		},
	})
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, opts *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	m, err := f.put(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := m["PartitionKey"].(string), m["RowKey"].(string)
	if f.find(pk, rk) >= 0 {
		return aztables.AddEntityResponse{}, &azcore.ResponseError{StatusCode: 409}
	}
	f.rows[pk] = append(f.rows[pk], m)
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	m, err := f.put(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, rk := m["PartitionKey"].(string), m["RowKey"].(string)
	i := f.find(pk, rk)
	if i < 0 {
		return aztables.UpdateEntityResponse{}, &azcore.ResponseError{StatusCode: 404}
	}
	for k, v := range m {
		f.rows[pk][i][k] = v
	}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, pk, rk string, opts *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.find(pk, rk)
	if i < 0 {
		return aztables.DeleteEntityResponse{}, &azcore.ResponseError{StatusCode: 404}
	}
	f.rows[pk] = append(f.rows[pk][:i], f.rows[pk][i+1:]...)
	return aztables.DeleteEntityResponse{}, nil
}
