package nats

import (
	"github.com/nats-io/nats.go/micro"

	"github.com/flarexio/faceblade"
)

const (
	TopicRegister     = "register"
	TopicCheckSingle  = "check_single"
	TopicCheckMulti   = "check_multi"
	TopicListFaces    = "list_faces"
	TopicDeleteFaces  = "delete_faces"
	TopicListAllFaces = "list_all_faces"
	TopicPurgeFace    = "purge_face"
)

func AddEndpoints(group micro.Group, endpoints faceblade.EndpointSet) {
	group.AddEndpoint(TopicRegister, RegisterHandler(endpoints.Register))
	group.AddEndpoint(TopicCheckSingle, CheckSingleHandler(endpoints.CheckSingle))
	group.AddEndpoint(TopicCheckMulti, CheckMultiHandler(endpoints.CheckMulti))
	group.AddEndpoint(TopicListFaces, ListFacesHandler(endpoints.ListFaces))
	group.AddEndpoint(TopicDeleteFaces, DeleteFacesHandler(endpoints.DeleteFaces))
	group.AddEndpoint(TopicListAllFaces, ListAllFacesHandler(endpoints.ListAllFaces))
	group.AddEndpoint(TopicPurgeFace, PurgeFaceHandler(endpoints.PurgeFace))
}
