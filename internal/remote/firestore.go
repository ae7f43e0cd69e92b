package remote

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/taskflow/taskflow/internal/task"
)

// FirestoreConfig selects the project and credentials for the Firestore
// backend. With neither CredentialsFile nor AccessToken set, application
// default credentials are used (or the emulator, when
// FIRESTORE_EMULATOR_HOST is set).
type FirestoreConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	AccessToken     string `mapstructure:"access_token"`
}

// Firestore stores tasks as documents at users/{uid}/tasks/task_<id>.
type Firestore struct {
	client *firestore.Client
}

// NewFirestore connects to the project named in cfg.
func NewFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore project_id is required")
	}

	var opts []option.ClientOption
	switch {
	case cfg.AccessToken != "":
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
		opts = append(opts, option.WithTokenSource(ts))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Firestore{client: client}, nil
}

func (f *Firestore) tasks(uid string) *firestore.CollectionRef {
	return f.client.Collection("users").Doc(uid).Collection("tasks")
}

// Upsert implements Backend.
func (f *Firestore) Upsert(ctx context.Context, uid string, t *task.Task) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	if _, err := f.tasks(uid).Doc(t.DocKey()).Set(ctx, t); err != nil {
		return fmt.Errorf("failed to write %s: %w", t.DocKey(), err)
	}
	return nil
}

// FetchAll implements Backend.
func (f *Firestore) FetchAll(ctx context.Context, uid string) ([]*task.Task, error) {
	if err := requireUID(uid); err != nil {
		return nil, err
	}

	docs, err := f.tasks(uid).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	out := make([]*task.Task, 0, len(docs))
	for _, doc := range docs {
		var t task.Task
		if err := doc.DataTo(&t); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", doc.Ref.ID, err)
		}
		if t.ID == 0 {
			id, err := task.ParseDocKey(doc.Ref.ID)
			if err != nil {
				return nil, err
			}
			t.ID = id
		}
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete implements Backend.
func (f *Firestore) Delete(ctx context.Context, uid string, id int64) error {
	if err := requireUID(uid); err != nil {
		return err
	}
	_, err := f.tasks(uid).Doc(task.DocKey(id)).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete %s: %w", task.DocKey(id), err)
	}
	return nil
}

// Close implements Backend.
func (f *Firestore) Close() error {
	return f.client.Close()
}
