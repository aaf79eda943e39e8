package bucketcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI captures the subset of DynamoDB client methods used by the
// durable store.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoDurableConfig configures the DynamoDB persistence backend. When
// Client is nil a client is built from Region/Endpoint, which suits local
// dynamodb containers.
type DynamoDurableConfig struct {
	Client   DynamoAPI
	Table    string
	Region   string
	Endpoint string
}

type dynamoDurableStore struct {
	client DynamoAPI
	table  string
}

const (
	dynamoEnsureTableMaxAttempts = 20
	dynamoEnsureTableRetryDelay  = 150 * time.Millisecond
)

// NewDynamoDurableStore builds a DynamoDB-backed DurableStore, creating the
// table when it does not exist. The bucket is the partition key and the
// identifier the sort key, so ListAll is a single-partition query.
func NewDynamoDurableStore(ctx context.Context, cfg DynamoDurableConfig) (DurableStore, error) {
	if cfg.Table == "" {
		return nil, errors.New("bucketcache: dynamo durable store requires a table")
	}
	if cfg.Client == nil {
		client, err := newDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		cfg.Client = client
	}
	if err := ensureDynamoTable(ctx, cfg.Client, cfg.Table); err != nil {
		return nil, err
	}
	return &dynamoDurableStore{client: cfg.Client, table: cfg.Table}, nil
}

func newDynamoClient(ctx context.Context, cfg DynamoDurableConfig) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")),
	)
	if err != nil {
		return nil, err
	}
	if cfg.Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true}, nil
		})
		if _, err := resolver.ResolveEndpoint("dynamodb", cfg.Region); err != nil {
			return nil, err
		}
		awsCfg.EndpointResolverWithOptions = resolver
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

func (s *dynamoDurableStore) Put(ctx context.Context, bucket, identifier string, payload []byte, expiresAt time.Time) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"b":  &types.AttributeValueMemberS{Value: bucket},
			"k":  &types.AttributeValueMemberS{Value: identifier},
			"v":  &types.AttributeValueMemberB{Value: cloneBytes(payload)},
			"ea": &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.UnixMilli(), 10)},
		},
	})
	return err
}

func (s *dynamoDurableStore) Get(ctx context.Context, bucket, identifier string) (DurableRecord, bool, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key:       dynamoKey(bucket, identifier),
	})
	if err != nil {
		return DurableRecord{}, false, err
	}
	if out.Item == nil {
		return DurableRecord{}, false, nil
	}
	rec, err := dynamoRecord(out.Item)
	if err != nil {
		return DurableRecord{}, false, err
	}
	return rec, true, nil
}

func (s *dynamoDurableStore) Delete(ctx context.Context, bucket, identifier string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       dynamoKey(bucket, identifier),
	})
	return err
}

func (s *dynamoDurableStore) Clear(ctx context.Context, bucket string) error {
	records, err := s.ListAll(ctx, bucket)
	if err != nil {
		return err
	}
	for start := 0; start < len(records); start += 25 {
		end := start + 25
		if end > len(records) {
			end = len(records)
		}
		writes := make([]types.WriteRequest, 0, end-start)
		for _, rec := range records[start:end] {
			writes = append(writes, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: dynamoKey(bucket, rec.Identifier)},
			})
		}
		if _, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{s.table: writes},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *dynamoDurableStore) ListAll(ctx context.Context, bucket string) ([]DurableRecord, error) {
	var records []DurableRecord
	var lastEvaluatedKey map[string]types.AttributeValue
	for {
		out, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(s.table),
			KeyConditionExpression:    aws.String("b = :b"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":b": &types.AttributeValueMemberS{Value: bucket}},
			ExclusiveStartKey:         lastEvaluatedKey,
		})
		if err != nil {
			return nil, err
		}
		for _, item := range out.Items {
			rec, err := dynamoRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		lastEvaluatedKey = out.LastEvaluatedKey
	}
}

func dynamoKey(bucket, identifier string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"b": &types.AttributeValueMemberS{Value: bucket},
		"k": &types.AttributeValueMemberS{Value: identifier},
	}
}

func dynamoRecord(item map[string]types.AttributeValue) (DurableRecord, error) {
	k, ok := item["k"].(*types.AttributeValueMemberS)
	if !ok {
		return DurableRecord{}, errors.New("bucketcache: dynamo item missing identifier")
	}
	v, ok := item["v"].(*types.AttributeValueMemberB)
	if !ok {
		return DurableRecord{}, errors.New("bucketcache: dynamo item missing binary value")
	}
	rec := DurableRecord{Identifier: k.Value, Payload: cloneBytes(v.Value)}
	if ea, ok := item["ea"].(*types.AttributeValueMemberN); ok {
		millis, err := strconv.ParseInt(ea.Value, 10, 64)
		if err != nil {
			return DurableRecord{}, fmt.Errorf("bucketcache: dynamo expiry for %q: %w", k.Value, err)
		}
		rec.ExpiresAt = time.UnixMilli(millis)
	}
	return rec, nil
}

func ensureDynamoTable(ctx context.Context, client DynamoAPI, table string) error {
	var lastErr error
	for attempt := 1; attempt <= dynamoEnsureTableMaxAttempts; attempt++ {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err == nil {
			return nil
		}

		var rnfe *types.ResourceNotFoundException
		if errors.As(err, &rnfe) {
			_, createErr := client.CreateTable(ctx, &dynamodb.CreateTableInput{
				TableName: aws.String(table),
				KeySchema: []types.KeySchemaElement{
					{AttributeName: aws.String("b"), KeyType: types.KeyTypeHash},
					{AttributeName: aws.String("k"), KeyType: types.KeyTypeRange},
				},
				AttributeDefinitions: []types.AttributeDefinition{
					{AttributeName: aws.String("b"), AttributeType: types.ScalarAttributeTypeS},
					{AttributeName: aws.String("k"), AttributeType: types.ScalarAttributeTypeS},
				},
				BillingMode: types.BillingModePayPerRequest,
			})
			if createErr == nil {
				return nil
			}
			var inUse *types.ResourceInUseException
			if errors.As(createErr, &inUse) {
				return nil
			}
			if !isDynamoStartupRetryable(createErr) {
				return createErr
			}
			lastErr = createErr
		} else {
			if !isDynamoStartupRetryable(err) {
				return err
			}
			lastErr = err
		}

		if attempt == dynamoEnsureTableMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(dynamoEnsureTableRetryDelay):
		}
	}
	if lastErr == nil {
		lastErr = errors.New("dynamo table ensure failed")
	}
	return fmt.Errorf("ensure dynamo table %q: %w", table, lastErr)
}

func isDynamoStartupRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "request send failed") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "eof")
}
