package federation

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/quillhost/quill/db"
	"github.com/quillhost/quill/domain"
	"github.com/quillhost/quill/util"
)

var (
	// ErrMalformedActivity marks payloads the inbox must reject with a 400.
	ErrMalformedActivity = errors.New("malformed activity")
)

// Sender delivers one activity to one inbox. The default implementation
// signs and POSTs over HTTP; tests substitute a recorder.
type Sender interface {
	Send(activity map[string]interface{}, inboxURI string, from *domain.Actor) error
}

// Service is the federation core. All dependencies are injected at
// construction; there is no package-level state.
type Service struct {
	Db     *db.DB
	Conf   *util.AppConfig
	Client *http.Client
	Sender Sender
}

func NewService(database *db.DB, conf *util.AppConfig) *Service {
	s := &Service{
		Db:     database,
		Conf:   conf,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
	s.Sender = &httpSender{service: s}
	return s
}

// EnsureLocalActor creates (or returns) the actor row backing a blog,
// generating its signing keypair on first use.
func (s *Service) EnsureLocalActor(blog *domain.Blog) (*domain.Actor, error) {
	err, existing := s.Db.ReadActorByBlogId(blog.Id)
	if err == nil && existing != nil {
		return existing, nil
	}

	keypair := util.GeneratePemKeypair()
	host := s.Conf.Conf.SslDomain
	blogId := blog.Id
	now := time.Now()

	actor := &domain.Actor{
		Id:             uuid.New(),
		IRI:            s.localActorIRI(blog.Slug),
		Type:           domain.ActorTypePerson,
		Username:       blog.Slug,
		InstanceHost:   host,
		HandleHost:     host,
		BlogId:         &blogId,
		Name:           blog.Title,
		Bio:            util.SanitizeHTML(blog.Description),
		InboxURI:       s.localActorIRI(blog.Slug) + "/inbox",
		SharedInboxURI: fmt.Sprintf("https://%s/inbox", host),
		FollowersURI:   s.localActorIRI(blog.Slug) + "/followers",
		PublicKeyPem:   keypair.Public,
		PrivateKeyPem:  keypair.Private,
		PublishedAt:    now,
		UpdatedAt:      now,
	}

	if err := s.Db.CreateActor(actor); err != nil {
		return nil, fmt.Errorf("failed to create local actor: %w", err)
	}
	return actor, nil
}

// LocalActorBySlug resolves a blog slug to its actor row.
func (s *Service) LocalActorBySlug(slug string) (*domain.Actor, error) {
	err, blog := s.Db.ReadBlogBySlug(slug)
	if err != nil || blog == nil {
		return nil, fmt.Errorf("blog %s not found: %w", slug, err)
	}
	err, actor := s.Db.ReadActorByBlogId(blog.Id)
	if err != nil || actor == nil {
		return nil, fmt.Errorf("actor for blog %s not found: %w", slug, err)
	}
	return actor, nil
}

func (s *Service) localActorIRI(slug string) string {
	return fmt.Sprintf("https://%s/users/%s", s.Conf.Conf.SslDomain, slug)
}

func userAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", util.Name, util.GetVersion())
}

// isLocalIRI reports whether the IRI lives on this server's origin.
func (s *Service) isLocalIRI(iri string) bool {
	origin, err := util.ExtractOrigin(iri)
	if err != nil {
		return false
	}
	return origin == s.Conf.LocalOrigin()
}
