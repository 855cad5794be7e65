package milvus

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
)

// 集合字段
const (
	fieldID        = "id"
	fieldNamespace = "namespace"
	fieldContent   = "content"
	fieldMetadata  = "metadata"
	fieldVector    = "vector"
)

// rows 列式写入数据
type rows struct {
	IDs        []string
	Namespaces []string
	Contents   []string
	Metadata   []string // JSON 文本
	Vectors    [][]float32
}

// hit 单条检索结果
type hit struct {
	ID       string
	Content  string
	Metadata string
	Score    float32
}

// collectionAPI Backend 依赖的最小 Milvus 操作集，测试中以内存实现替换
type collectionAPI interface {
	ListCollections(ctx context.Context) ([]string, error)
	CollectionDims(ctx context.Context, name string) (int, error)
	CreateCollection(ctx context.Context, name string, dims int) error
	DropCollection(ctx context.Context, name string) error
	LoadCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, name string, dims int, data rows) error
	Search(ctx context.Context, name, filter string, vector []float32, k int) ([]hit, error)
	Delete(ctx context.Context, name, expr string) error
	Close(ctx context.Context) error
}

// sdkClient 基于官方 milvusclient 的实现
type sdkClient struct {
	cli *milvusclient.Client
}

func dial(ctx context.Context, cfg Config) (*sdkClient, error) {
	cli, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address: cfg.Address,
		APIKey:  cfg.Token,
		DBName:  cfg.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus %s: %w", cfg.Address, err)
	}
	return &sdkClient{cli: cli}, nil
}

func (s *sdkClient) ListCollections(ctx context.Context) ([]string, error) {
	return s.cli.ListCollections(ctx, milvusclient.NewListCollectionOption())
}

func (s *sdkClient) CollectionDims(ctx context.Context, name string) (int, error) {
	coll, err := s.cli.DescribeCollection(ctx, milvusclient.NewDescribeCollectionOption(name))
	if err != nil {
		return 0, err
	}
	for _, f := range coll.Schema.Fields {
		if f.Name == fieldVector {
			dims, err := strconv.Atoi(f.TypeParams[entity.TypeParamDim])
			if err != nil {
				return 0, fmt.Errorf("parse dim of %s: %w", name, err)
			}
			return dims, nil
		}
	}
	return 0, fmt.Errorf("collection %s has no %s field", name, fieldVector)
}

// CreateCollection 建表、建 HNSW/COSINE 索引并加载到内存
func (s *sdkClient) CreateCollection(ctx context.Context, name string, dims int) error {
	schema := entity.NewSchema().
		WithName(name).
		WithDescription("ragcore chunks").
		WithField(entity.NewField().WithName(fieldID).WithDataType(entity.FieldTypeVarChar).WithIsPrimaryKey(true).WithMaxLength(64)).
		WithField(entity.NewField().WithName(fieldNamespace).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255)).
		WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldMetadata).WithDataType(entity.FieldTypeVarChar).WithMaxLength(65535)).
		WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(dims)))

	if err := s.cli.CreateCollection(ctx, milvusclient.NewCreateCollectionOption(name, schema)); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	idxTask, err := s.cli.CreateIndex(ctx, milvusclient.NewCreateIndexOption(name, fieldVector, index.NewHNSWIndex(entity.COSINE, 16, 200)))
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := idxTask.Await(ctx); err != nil {
		return fmt.Errorf("await index: %w", err)
	}

	return s.LoadCollection(ctx, name)
}

// LoadCollection 加载集合到内存，已加载时服务端直接返回
func (s *sdkClient) LoadCollection(ctx context.Context, name string) error {
	loadTask, err := s.cli.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(name))
	if err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return loadTask.Await(ctx)
}

func (s *sdkClient) DropCollection(ctx context.Context, name string) error {
	return s.cli.DropCollection(ctx, milvusclient.NewDropCollectionOption(name))
}

func (s *sdkClient) Upsert(ctx context.Context, name string, dims int, data rows) error {
	opt := milvusclient.NewColumnBasedInsertOption(name).
		WithVarcharColumn(fieldID, data.IDs).
		WithVarcharColumn(fieldNamespace, data.Namespaces).
		WithVarcharColumn(fieldContent, data.Contents).
		WithVarcharColumn(fieldMetadata, data.Metadata).
		WithFloatVectorColumn(fieldVector, dims, data.Vectors)
	_, err := s.cli.Upsert(ctx, opt)
	return err
}

func (s *sdkClient) Search(ctx context.Context, name, filter string, vector []float32, k int) ([]hit, error) {
	opt := milvusclient.NewSearchOption(name, k, []entity.Vector{entity.FloatVector(vector)}).
		WithANNSField(fieldVector).
		WithOutputFields(fieldContent, fieldMetadata)
	if filter != "" {
		opt = opt.WithFilter(filter)
	}
	results, err := s.cli.Search(ctx, opt)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	rs := results[0]
	contents := rs.GetColumn(fieldContent)
	metas := rs.GetColumn(fieldMetadata)
	hits := make([]hit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("read id %d: %w", i, err)
		}
		h := hit{ID: id}
		if i < len(rs.Scores) {
			h.Score = rs.Scores[i]
		}
		if contents != nil {
			h.Content, _ = contents.GetAsString(i)
		}
		if metas != nil {
			h.Metadata, _ = metas.GetAsString(i)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func (s *sdkClient) Delete(ctx context.Context, name, expr string) error {
	_, err := s.cli.Delete(ctx, milvusclient.NewDeleteOption(name).WithExpr(expr))
	return err
}

func (s *sdkClient) Close(ctx context.Context) error {
	return s.cli.Close(ctx)
}
