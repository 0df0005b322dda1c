package wallet

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateKeyFilesWritesExpectedModesAndContent(t *testing.T) {
	dir := t.TempDir()
	pub, err := GenerateKeyFiles(dir, "node1")
	if err != nil {
		t.Fatalf("GenerateKeyFiles: %v", err)
	}

	pubInfo, err := os.Stat(filepath.Join(dir, "node1.public"))
	if err != nil {
		t.Fatalf("stat public file: %v", err)
	}
	if pubInfo.Mode().Perm() != publicFileMode {
		t.Fatalf("public file mode: got %o want %o", pubInfo.Mode().Perm(), publicFileMode)
	}

	privInfo, err := os.Stat(filepath.Join(dir, "node1.private"))
	if err != nil {
		t.Fatalf("stat private file: %v", err)
	}
	if privInfo.Mode().Perm() != privateFileMode {
		t.Fatalf("private file mode: got %o want %o", privInfo.Mode().Perm(), privateFileMode)
	}

	pubBytes, err := os.ReadFile(filepath.Join(dir, "node1.public"))
	if err != nil {
		t.Fatal(err)
	}
	if string(pubBytes) != string(pub) {
		t.Fatal("public file content does not match returned public key")
	}
}

func TestLoadKeyFilesRecoversSamePublicKey(t *testing.T) {
	dir := t.TempDir()
	pub, err := GenerateKeyFiles(dir, "node1")
	if err != nil {
		t.Fatal(err)
	}

	kr, err := LoadKeyFiles(dir, "node1")
	if err != nil {
		t.Fatalf("LoadKeyFiles: %v", err)
	}
	if kr.PublicKey().String() != pub.String() {
		t.Fatal("loaded keyring public key does not match generated public key")
	}

	sig := kr.Sign([]byte("divachain"))
	if len(sig) == 0 {
		t.Fatal("expected non-empty signature")
	}
}

func TestKeyFilesExist(t *testing.T) {
	dir := t.TempDir()
	if KeyFilesExist(dir, "node1") {
		t.Fatal("expected KeyFilesExist to be false before generation")
	}
	if _, err := GenerateKeyFiles(dir, "node1"); err != nil {
		t.Fatal(err)
	}
	if !KeyFilesExist(dir, "node1") {
		t.Fatal("expected KeyFilesExist to be true after generation")
	}
}

func TestEncryptedKeystoreRoundtrip(t *testing.T) {
	dir := t.TempDir()
	pub, err := GenerateKeyFiles(dir, "node1")
	if err != nil {
		t.Fatal(err)
	}

	// SaveKey/LoadKey operate on the raw private key, not the keyring, so
	// read it directly from the file GenerateKeyFiles just wrote.
	rawPriv, err := os.ReadFile(filepath.Join(dir, "node1.private"))
	if err != nil {
		t.Fatal(err)
	}

	ks := EncryptedKeystore{Path: filepath.Join(dir, "node1.keystore")}
	if err := ks.Save("correct horse", rawPriv); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := ks.Load("correct horse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Public().String() != pub.String() {
		t.Fatal("decrypted key does not match original public key")
	}

	if _, err := ks.Load("wrong password"); err == nil {
		t.Fatal("expected error decrypting with wrong password")
	}
}
