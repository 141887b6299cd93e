package mutation

import "errors"

var ErrConfirmationDeclined = errors.New("change declined by user")
