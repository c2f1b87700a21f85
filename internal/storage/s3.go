// Package storage fetches document artifacts from the object store. OCR
// output and page images are written by the ingestion side under the
// document's storage key; this side only reads.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/caselight/backend/internal/util"
)

// NewS3Client builds an S3 client from AWS_* environment variables.
// Path-style addressing keeps it compatible with MinIO deployments.
func NewS3Client(ctx context.Context) *s3.Client {
	region := util.GetEnv("AWS_REGION")
	endpoint := util.GetEnv("AWS_ENDPOINT")
	accessKey := util.GetEnv("AWS_ACCESS_KEY")
	secretKey := util.GetEnv("AWS_SECRET_KEY")

	cfg, err := config.LoadDefaultConfig(
		ctx,
		config.WithRegion(region),
		config.WithBaseEndpoint(endpoint),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey,
			secretKey,
			"",
		)),
	)
	if err != nil {
		return nil
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
}

// GetFile downloads one object.
func GetFile(ctx context.Context, client *s3.Client, key string) ([]byte, error) {
	bucket := util.GetEnv("AWS_BUCKET")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get file from S3: %w", err)
	}
	defer result.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, result.Body); err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	return buf.Bytes(), nil
}

// GetDocumentText downloads the OCR text for a document. The ingestion
// side stores it next to the original under <storageKey>.txt.
func GetDocumentText(ctx context.Context, client *s3.Client, storageKey string) (string, error) {
	data, err := GetFile(ctx, client, storageKey+".txt")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ListPageImages returns the page image keys for a document in page
// order. Page images live under <storageKey>_pages/ with zero-padded
// page numbers, so a lexical sort is page order.
func ListPageImages(ctx context.Context, client *s3.Client, storageKey string) ([]string, error) {
	keys, err := listFilesWithPrefix(ctx, client, storageKey+"_pages/")
	if err != nil {
		return nil, err
	}

	images := keys[:0]
	for _, key := range keys {
		if strings.HasSuffix(key, ".png") || strings.HasSuffix(key, ".jpg") {
			images = append(images, key)
		}
	}
	sort.Strings(images)
	return images, nil
}

func listFilesWithPrefix(ctx context.Context, client *s3.Client, prefix string) ([]string, error) {
	bucket := util.GetEnv("AWS_BUCKET")

	var keys []string
	listInput := &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}

	for {
		listOutput, err := client.ListObjectsV2(ctx, listInput)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects with prefix %s: %w", prefix, err)
		}

		for _, obj := range listOutput.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}

		if listOutput.IsTruncated != nil && *listOutput.IsTruncated {
			listInput.ContinuationToken = listOutput.NextContinuationToken
		} else {
			break
		}
	}

	return keys, nil
}
