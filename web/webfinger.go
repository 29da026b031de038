package web

import "fmt"

func (h *Handler) GetWebfinger(user string) (error, string) {
	actor, err := h.Service.LocalActorBySlug(user)
	if err != nil {
		return err, GetWebFingerNotFound()
	}

	return nil, fmt.Sprintf(
		`{
					"subject": "acct:%s@%s",

					"links": [
						{
							"rel": "self",
							"type": "application/activity+json",
							"href": "%s"
						}
					]
				}`, actor.Username, h.Conf.Conf.SslDomain, actor.IRI)
}

func GetWebFingerNotFound() string {
	return `{"detail":"Not Found"}`
}
