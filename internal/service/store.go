package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ios-xr/iosxrv-x64-vbox/internal/config"
	"github.com/ios-xr/iosxrv-x64-vbox/pkg/logger"
)

// StoreRequest box 制品发布请求
type StoreRequest struct {
	BoxPath string
	// Release true 发布 release 前缀，否则 snapshot
	Release bool
	Message string
	// Notify 上传成功后发邮件通知
	Notify bool
}

// StoredBox 发布结果
type StoredBox struct {
	Bucket    string
	ObjectKey string
	URL       string
}

// StoreService 把 box 上传到对象存储并发送通知
type StoreService struct {
	cfg    *config.Config
	client *minio.Client
}

// NewStoreService 构造；对象存储配置不全时返回错误而不是半初始化
func NewStoreService(cfg *config.Config) (*StoreService, error) {
	mc := cfg.Storage.Minio
	host := strings.TrimSpace(mc.Host)
	if host == "" || mc.Port <= 0 {
		return nil, fmt.Errorf("minio configuration incomplete: host/port missing")
	}
	endpoint := fmt.Sprintf("%s:%d", host, mc.Port)

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(mc.AccessKey, mc.SecretKey, ""),
		Secure:    mc.Secure,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &StoreService{cfg: cfg, client: client}, nil
}

// Store 上传 box 并按需通知
func (s *StoreService) Store(ctx context.Context, req *StoreRequest) (*StoredBox, error) {
	mc := s.cfg.Storage.Minio
	bucket := strings.TrimSpace(mc.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("minio bucket not configured")
	}

	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket check: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("make bucket: %w", err)
		}
	}

	prefix := mc.SnapshotPrefix
	if req.Release {
		prefix = mc.ReleasePrefix
	}
	objectKey := path.Join(prefix, time.Now().Format("20060102"), filepath.Base(req.BoxPath))

	logger.WithField("object", objectKey).Info("uploading box")
	info, err := s.client.FPutObject(ctx, bucket, objectKey, req.BoxPath, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", req.BoxPath, err)
	}
	logger.WithField("object", objectKey).WithField("size", info.Size).Info("box uploaded")

	stored := &StoredBox{
		Bucket:    bucket,
		ObjectKey: objectKey,
		URL:       fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), bucket, objectKey),
	}

	if req.Notify {
		if err := s.notify(stored, req); err != nil {
			// 通知失败不回滚上传
			logger.Warn("notification failed: ", err)
		}
	}
	return stored, nil
}

// notify 发送构建发布邮件
func (s *StoreService) notify(stored *StoredBox, req *StoreRequest) error {
	sc := s.cfg.SMTP
	if sc.Host == "" || sc.To == "" {
		return fmt.Errorf("smtp not configured")
	}

	kind := "snapshot"
	if req.Release {
		kind = "release"
	}
	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: A new IOS XRv (64-bit) vagrant box has been posted (%s)\r\n\r\n"+
		"Box: %s\r\nLocation: %s\r\n\r\n%s\r\n",
		sc.From, sc.To, kind, filepath.Base(req.BoxPath), stored.URL, req.Message)

	addr := net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
	var auth smtp.Auth
	if sc.Username != "" {
		auth = smtp.PlainAuth("", sc.Username, sc.Password, sc.Host)
	}
	return smtp.SendMail(addr, auth, sc.From, strings.Split(sc.To, ","), []byte(body))
}
