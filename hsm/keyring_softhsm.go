//go:build softhsm

package hsm

import (
	"fmt"

	"github.com/miekg/pkcs11"
)

// PKCS11Keyring keeps the master key on a PKCS#11 token (e.g. SoftHSM2) and
// wraps zone key blobs with AES-GCM on-token. Enabled via the softhsm build
// tag so the default build carries no pkcs11 dependency at link time.
type PKCS11Keyring struct {
	libPath  string
	slotID   uint
	pin      string
	keyLabel string
	p11      *pkcs11.Ctx
	sess     pkcs11.SessionHandle
	master   pkcs11.ObjectHandle
}

func NewPKCS11Keyring(libPath string, slotID uint, pin, keyLabel string) *PKCS11Keyring {
	return &PKCS11Keyring{libPath: libPath, slotID: slotID, pin: pin, keyLabel: keyLabel}
}

// Connect loads the module, opens a session and locates the master key.
func (r *PKCS11Keyring) Connect() error {
	r.p11 = pkcs11.New(r.libPath)
	if r.p11 == nil {
		return fmt.Errorf("load pkcs11 lib failed")
	}
	if err := r.p11.Initialize(); err != nil {
		return err
	}
	sess, err := r.p11.OpenSession(pkcs11.SlotID(r.slotID), pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		_ = r.p11.Finalize()
		return err
	}
	r.sess = sess
	if err := r.p11.Login(r.sess, pkcs11.CKU_USER, r.pin); err != nil {
		_ = r.p11.CloseSession(r.sess)
		_ = r.p11.Finalize()
		return err
	}

	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, r.keyLabel),
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_AES),
	}
	if err := r.p11.FindObjectsInit(r.sess, template); err != nil {
		return err
	}
	objs, _, err := r.p11.FindObjects(r.sess, 1)
	_ = r.p11.FindObjectsFinal(r.sess)
	if err != nil {
		return err
	}
	if len(objs) == 0 {
		return fmt.Errorf("master key not found by label=%s", r.keyLabel)
	}
	r.master = objs[0]
	return nil
}

func (r *PKCS11Keyring) Close() {
	if r.p11 != nil {
		if r.sess != 0 {
			_ = r.p11.Logout(r.sess)
			_ = r.p11.CloseSession(r.sess)
		}
		_ = r.p11.Finalize()
		r.p11.Destroy()
		r.p11 = nil
	}
}

const gcmNonceSize = 12

func (r *PKCS11Keyring) Seal(blob []byte) (EncryptedKey, error) {
	nonce, err := r.p11.GenerateRandom(r.sess, gcmNonceSize)
	if err != nil {
		return nil, err
	}
	params := pkcs11.NewGCMParams(nonce, nil, 128)
	defer params.Free()
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_GCM, params)}
	if err := r.p11.EncryptInit(r.sess, mech, r.master); err != nil {
		return nil, err
	}
	sealed, err := r.p11.Encrypt(r.sess, blob)
	if err != nil {
		return nil, err
	}
	return EncryptedKey(append(nonce, sealed...)), nil
}

func (r *PKCS11Keyring) Open(ek EncryptedKey) ([]byte, error) {
	if len(ek) <= gcmNonceSize {
		return nil, fmt.Errorf("encrypted key too short")
	}
	nonce, sealed := ek[:gcmNonceSize], ek[gcmNonceSize:]
	params := pkcs11.NewGCMParams(nonce, nil, 128)
	defer params.Free()
	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_GCM, params)}
	if err := r.p11.DecryptInit(r.sess, mech, r.master); err != nil {
		return nil, err
	}
	blob, err := r.p11.Decrypt(r.sess, sealed)
	if err != nil {
		return nil, err
	}
	if len(blob) != blobSize {
		return nil, fmt.Errorf("key blob length got %d want %d", len(blob), blobSize)
	}
	return blob, nil
}

var _ Keyring = (*PKCS11Keyring)(nil)
