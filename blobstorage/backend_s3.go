/*
Copyright (C) 2026  Kronuz Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package blobstorage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Config names the S3 (or S3-compatible, e.g. MinIO) bucket volumes
// are stored in. Grounded on storage/persistence-s3.go's S3Factory.
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
}

// S3Backend stores volumes as objects in a bucket. S3 has no append
// primitive, so OpenAppend preloads the existing object (if any) into
// memory and PutObject's the whole thing back on Sync — the same
// buffer-and-replace strategy storage/persistence-s3.go uses for its
// log segments.
type S3Backend struct {
	cfg S3Config

	mu     sync.Mutex
	client *s3.Client
}

func NewS3Backend(cfg S3Config) *S3Backend {
	return &S3Backend{cfg: cfg}
}

func (s *S3Backend) ensureClient() *s3.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client
	}

	var opts []func(*awsconfig.LoadOptions) error
	if s.cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s.cfg.Region))
	}
	if s.cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.cfg.AccessKeyID, s.cfg.SecretAccessKey, "")))
	}

	awscfg, _ := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	s.client = s3.NewFromConfig(awscfg, func(o *s3.Options) {
		if s.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(s.cfg.Endpoint)
		}
		o.UsePathStyle = s.cfg.ForcePathStyle
	})
	return s.client
}

func (s *S3Backend) key(name string) string {
	prefix := strings.TrimSuffix(s.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (s *S3Backend) OpenRead(name string) (io.ReadSeeker, io.Closer, error) {
	client := s.ensureClient()
	out, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, nil, err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, nil, err
	}
	r := bytes.NewReader(data)
	return r, noopCloser{}, nil
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

func (s *S3Backend) OpenAppend(name string) (AppendFile, error) {
	client := s.ensureClient()
	var buf bytes.Buffer
	out, err := client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err == nil {
		defer out.Body.Close()
		if _, err := io.Copy(&buf, out.Body); err != nil {
			return nil, err
		}
	} else if !isNoSuchKey(err) {
		return nil, err
	}
	return &s3Appender{backend: s, name: name, buf: buf}, nil
}

func (s *S3Backend) Remove(name string) error {
	client := s.ensureClient()
	_, err := client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

func (s *S3Backend) List(prefix string) ([]string, error) {
	client := s.ensureClient()
	fullPrefix := s.key(prefix)
	basePrefix := s.key("")
	var names []string
	var token *string
	for {
		out, err := client.ListObjectsV2(context.Background(), &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(fullPrefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			names = append(names, strings.TrimPrefix(aws.ToString(obj.Key), basePrefix))
		}
		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}

type s3Appender struct {
	backend *S3Backend
	name    string
	buf     bytes.Buffer
}

func (a *s3Appender) Write(p []byte) (int, error) {
	return a.buf.Write(p)
}

func (a *s3Appender) Sync() error {
	client := a.backend.ensureClient()
	_, err := client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket: aws.String(a.backend.cfg.Bucket),
		Key:    aws.String(a.backend.key(a.name)),
		Body:   bytes.NewReader(a.buf.Bytes()),
	})
	return err
}

func (a *s3Appender) Close() error {
	return a.Sync()
}

func (a *s3Appender) Size() (int64, error) {
	return int64(a.buf.Len()), nil
}
