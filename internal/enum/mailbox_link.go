package enum

type LinkDeactivationReason string

const (
	LinkDeactivatedByOwner    LinkDeactivationReason = "owner_request"
	LinkDeactivatedAuthError  LinkDeactivationReason = "auth_failure"
	LinkDeactivatedFetchError LinkDeactivationReason = "fetch_failure"
)

func (t LinkDeactivationReason) String() string {
	return string(t)
}
